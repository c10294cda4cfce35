package backtest

import (
	"math"
	"sort"
)

// VaRConfidence is the confidence level reported in Metrics
const VaRConfidence = 0.95

// HistoricalVaR 과거 수익률 기반 VaR / CVaR (Historical Simulation)
// returns: 기간 수익률 (양수=이익, 음수=손실)
// 반환값: 손실을 양수로 표현 (0.05 = 5% 손실), 손실 없으면 0
func HistoricalVaR(returns []float64, confidence float64) (valueAtRisk, cvar float64) {
	if len(returns) == 0 {
		return 0, 0
	}

	// 오름차순: 손실이 앞에
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	// 95% VaR = 하위 5% 백분위수
	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	valueAtRisk = math.Max(0, -sorted[idx])

	// CVaR (Expected Shortfall): VaR 이하 tail 평균
	tail := 0.0
	for _, r := range sorted[:idx+1] {
		tail += r
	}
	cvar = math.Max(0, -tail/float64(idx+1))
	return valueAtRisk, cvar
}

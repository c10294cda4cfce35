package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoricalVaR(t *testing.T) {
	// 20개 수익률: -0.10, -0.05, 0.01 × 18
	returns := []float64{0.01, -0.05, 0.01, 0.01, -0.10}
	for len(returns) < 20 {
		returns = append(returns, 0.01)
	}

	// 하위 5% → idx 1 (-0.05), tail 평균 (-0.10-0.05)/2
	v, cv := HistoricalVaR(returns, 0.95)
	assert.InDelta(t, 0.05, v, 1e-12)
	assert.InDelta(t, 0.075, cv, 1e-12)

	// 입력 순서 보존
	assert.Equal(t, -0.05, returns[1])
}

func TestHistoricalVaR_NoLosses(t *testing.T) {
	v, cv := HistoricalVaR([]float64{0.01, 0.02, 0.03}, 0.95)
	assert.Zero(t, v)
	assert.Zero(t, cv)

	v, cv = HistoricalVaR(nil, 0.95)
	assert.Zero(t, v)
	assert.Zero(t, cv)
}

package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics are performance statistics of one value series
type Metrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"` // 연율
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"` // 양수 (0.2 = -20%)
	WinRate          float64 `json:"win_rate"`
	VaR95            float64 `json:"var_95"`  // 기간 수익률 기준, 손실 양수
	CVaR95           float64 `json:"cvar_95"` // expected shortfall
	FinalValue       float64 `json:"final_value"`
	Periods          int     `json:"periods"`
}

// ComputeMetrics evaluates a value series sampled periodsPerYear times a year.
// riskFree is the per-period rate.
func ComputeMetrics(values []float64, periodsPerYear, riskFree float64) Metrics {
	m := Metrics{Periods: len(values)}
	if len(values) == 0 {
		return m
	}
	m.FinalValue = values[len(values)-1]
	if len(values) < 2 || values[0] <= 0 {
		return m
	}

	m.TotalReturn = values[len(values)-1]/values[0] - 1

	years := float64(len(values)) / periodsPerYear
	if years > 0 && 1+m.TotalReturn > 0 {
		m.AnnualizedReturn = math.Pow(1+m.TotalReturn, 1/years) - 1
	}

	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}
	if len(returns) == 0 {
		return m
	}

	annualFactor := math.Sqrt(periodsPerYear)
	excess := (stat.Mean(returns, nil) - riskFree) * periodsPerYear

	if len(returns) > 1 {
		m.Volatility = stat.StdDev(returns, nil) * annualFactor
	}
	if m.Volatility > 0 {
		m.SharpeRatio = excess / m.Volatility
	}

	// Downside deviation below the risk-free rate
	downside := 0.0
	wins := 0
	for _, r := range returns {
		if d := r - riskFree; d < 0 {
			downside += d * d
		}
		if r > 0 {
			wins++
		}
	}
	downsideDev := math.Sqrt(downside/float64(len(returns))) * annualFactor
	if downsideDev > 0 {
		m.SortinoRatio = excess / downsideDev
	}

	m.MaxDrawdown = maxDrawdown(values)
	m.WinRate = float64(wins) / float64(len(returns))
	m.VaR95, m.CVaR95 = HistoricalVaR(returns, VaRConfidence)
	return m
}

// maxDrawdown returns the largest peak-to-trough loss as a positive fraction
func maxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	worst := 0.0
	peak := values[0]
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

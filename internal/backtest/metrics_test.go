package backtest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeMetrics(t *testing.T) {
	// 분기 수익률 +10%, -10%, +10%, +10%
	values := []float64{100, 110, 99, 108.9, 119.79}

	m := ComputeMetrics(values, 4, 0)

	assert.Equal(t, 5, m.Periods)
	assert.InDelta(t, 0.1979, m.TotalReturn, 1e-12)
	assert.InDelta(t, math.Pow(1.1979, 0.8)-1, m.AnnualizedReturn, 1e-12)
	// 표본표준편차 0.1 × √4
	assert.InDelta(t, 0.2, m.Volatility, 1e-12)
	// (0.05×4)/0.2
	assert.InDelta(t, 1.0, m.SharpeRatio, 1e-9)
	// 하방편차 √(0.01/4)×2 = 0.1
	assert.InDelta(t, 2.0, m.SortinoRatio, 1e-9)
	assert.InDelta(t, 0.1, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, 0.75, m.WinRate, 1e-12)
	assert.InDelta(t, 0.1, m.VaR95, 1e-9)
	assert.InDelta(t, 0.1, m.CVaR95, 1e-9)
	assert.InDelta(t, 119.79, m.FinalValue, 1e-12)
}

func TestComputeMetrics_RiskFreeLowersSharpe(t *testing.T) {
	values := []float64{100, 110, 99, 108.9, 119.79}

	m := ComputeMetrics(values, 4, 0.01)
	// (0.05-0.01)×4 / 0.2
	assert.InDelta(t, 0.8, m.SharpeRatio, 1e-9)
}

func TestComputeMetrics_Short(t *testing.T) {
	assert.Equal(t, Metrics{}, ComputeMetrics(nil, 252, 0))

	m := ComputeMetrics([]float64{100}, 252, 0)
	assert.Equal(t, 1, m.Periods)
	assert.Equal(t, 100.0, m.FinalValue)
	assert.Zero(t, m.TotalReturn)
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.5, maxDrawdown([]float64{100, 200, 100, 150}), 1e-12)
	assert.Zero(t, maxDrawdown([]float64{1, 2, 3}))
}

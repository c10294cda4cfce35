package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/egp/internal/brain"
	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/marketdata"
	"github.com/wonny/egp/internal/strategyconfig"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func synthMarket(t int) float64 {
	return 0.0008 + 0.012*math.Sin(0.7*float64(t))
}

func synthAsset(code string, t int) float64 {
	x := float64(t)
	m := synthMarket(t)
	switch code {
	case "A":
		return 0.0010 + 1.2*m + 0.004*math.Sin(1.9*x+0.3)
	case "B":
		return 0.0004 + 0.8*m + 0.003*math.Cos(2.3*x)
	case "C":
		return 0.0006 + 1.0*m + 0.005*math.Sin(3.1*x+1)
	default: // FLAT
		return 0
	}
}

func pricePath(days int, ret func(int) float64) []contracts.PricePoint {
	out := make([]contracts.PricePoint, days+1)
	price := 100.0
	out[0] = contracts.PricePoint{Date: testStart, Close: price}
	for k := 0; k < days; k++ {
		price *= 1 + ret(k)
		out[k+1] = contracts.PricePoint{Date: testStart.AddDate(0, 0, k+1), Close: price}
	}
	return out
}

func synthPrices(days int, codes ...string) ([]contracts.PricePoint, map[string][]contracts.PricePoint) {
	assets := make(map[string][]contracts.PricePoint, len(codes))
	for _, code := range codes {
		assets[code] = pricePath(days, func(k int) float64 { return synthAsset(code, k) })
	}
	return pricePath(days, synthMarket), assets
}

func synthTable(t *testing.T, days int, codes ...string) *PriceTable {
	t.Helper()
	index, assets := synthPrices(days, codes...)
	table, err := NewPriceTable(index, assets, codes, marketdata.Daily, marketdata.SimpleReturns)
	require.NoError(t, err)
	return table
}

func testConfig(table *PriceTable) Config {
	return Config{
		StartDate:       table.Dates[61],
		InitialCapital:  1e8,
		Rebalance:       Rebalance{Kind: EveryN, Every: 20},
		Lookback:        60,
		MinObservations: 30,
		TransactionCost: 0.0015,
		PeriodsPerYear:  252,
		Frequency:       marketdata.Daily,
		Settings: brain.Settings{
			StrategyID:  "test",
			Constraints: contracts.ConstraintSpec{},
		},
	}
}

func newTestEngine() *Engine {
	return NewEngine(brain.NewOrchestrator(nil, nil, nil, nil, nil, nil, nil), nil, nil)
}

func TestEngineRun(t *testing.T) {
	table := synthTable(t, 200, "A", "B", "C")
	config := testConfig(table)

	result, err := newTestEngine().Run(context.Background(), table, config)
	require.NoError(t, err)

	// 61, 81, ..., 181
	require.Len(t, result.Rebalances, 7)
	assert.Zero(t, result.Fallbacks)
	assert.Equal(t, table.Len()-61, result.Periods)
	require.Len(t, result.EquityCurve, result.Periods)
	assert.Equal(t, table.Dates[61], result.StartDate)
	assert.Equal(t, "backtest", result.Config.Settings.Source)

	first := result.EquityCurve[0]
	assert.InDelta(t, 1e8, first.Benchmark, 1e-6)
	// 첫 리밸런싱 거래비용만큼 감소
	assert.Less(t, first.Equity, 1e8)

	assert.Greater(t, result.TotalTrades, 0)
	assert.Greater(t, result.TotalCost, 0.0)

	last := result.EquityCurve[len(result.EquityCurve)-1]
	assert.InDelta(t, last.Equity, result.Metrics.FinalValue, 1e-6)
	assert.InDelta(t, last.Benchmark, result.Benchmark.FinalValue, 1e-6)
	assert.InDelta(t, result.Metrics.TotalReturn-result.Benchmark.TotalReturn, result.ExcessReturn, 1e-12)

	for _, r := range result.Rebalances {
		assert.Empty(t, r.Fallback)
		assert.InDelta(t, 1.0, r.Weights.Sum(), 1e-6)
		for _, w := range r.Weights.Weights() {
			assert.GreaterOrEqual(t, w, 0.0)
		}
		// A는 모든 윈도우에서 최상위
		a, _ := r.Weights.Get("A")
		assert.Greater(t, a, 0.5)
	}
	assert.Equal(t, []string{"A", "B", "C"}, result.FinalWeights.Codes())
}

func TestEngineRun_InsufficientHistoryFallsBackToEqualWeight(t *testing.T) {
	table := synthTable(t, 200, "A", "B", "C")
	config := testConfig(table)
	config.MinObservations = 1000

	result, err := newTestEngine().Run(context.Background(), table, config)
	require.NoError(t, err)

	assert.Equal(t, len(result.Rebalances), result.Fallbacks)
	for _, r := range result.Rebalances {
		assert.Equal(t, FallbackInsufficientHistory, r.Fallback)
		for _, w := range r.Weights.Weights() {
			assert.InDelta(t, 1.0/3, w, 1e-12)
		}
	}
}

func TestTargetWeights_WinsorizesWindow(t *testing.T) {
	codes := []string{"A", "B", "C"}
	index := pricePath(200, synthMarket)
	assets := map[string][]contracts.PricePoint{
		"A": pricePath(200, func(k int) float64 { return synthAsset("A", k) }),
		"B": pricePath(200, func(k int) float64 {
			if k == 100 {
				return synthAsset("B", k) + 0.5 // 단일 급등일
			}
			return synthAsset("B", k)
		}),
		"C": pricePath(200, func(k int) float64 { return synthAsset("C", k) }),
	}
	table, err := NewPriceTable(index, assets, codes, marketdata.Daily, marketdata.SimpleReturns)
	require.NoError(t, err)

	engine := newTestEngine()
	config := testConfig(table)

	// 가격 행 121 → 수익률 61..120 (급등일 포함)
	raw := engine.targetWeights(context.Background(), table, 121, config)
	require.Empty(t, raw.Fallback)

	config.Winsorize = &strategyconfig.Winsorize{Lower: 0.05, Upper: 0.95}
	clipped := engine.targetWeights(context.Background(), table, 121, config)
	require.Empty(t, clipped.Fallback)
	assert.InDelta(t, 1.0, clipped.Weights.Sum(), 1e-6)

	maxDiff := 0.0
	for i, w := range raw.Weights.Weights() {
		maxDiff = math.Max(maxDiff, math.Abs(w-clipped.Weights.Weights()[i]))
	}
	assert.Greater(t, maxDiff, 1e-3, "clipping the outlier must change the allocation")
}

func TestEngineRun_InfeasibleConstraintFallsBack(t *testing.T) {
	table := synthTable(t, 200, "A", "B", "C")
	config := testConfig(table)
	config.Settings.Constraints = contracts.ConstraintSpec{}.WithMaxWeight(0.2)

	result, err := newTestEngine().Run(context.Background(), table, config)
	require.NoError(t, err)

	require.NotEmpty(t, result.Rebalances)
	assert.Equal(t, len(result.Rebalances), result.Fallbacks)
	for _, r := range result.Rebalances {
		assert.Equal(t, "constraint_infeasible", r.Fallback)
	}
}

func TestEngineRun_DropsFailedAssets(t *testing.T) {
	table := synthTable(t, 200, "A", "B", "C", "FLAT")
	config := testConfig(table)

	result, err := newTestEngine().Run(context.Background(), table, config)
	require.NoError(t, err)

	assert.Zero(t, result.Fallbacks)
	for _, r := range result.Rebalances {
		assert.Equal(t, []string{"FLAT"}, r.Excluded)
		w, ok := r.Weights.Get("FLAT")
		require.True(t, ok)
		assert.Zero(t, w)
	}
}

func TestEngineRun_Errors(t *testing.T) {
	table := synthTable(t, 30, "A", "B")
	engine := newTestEngine()

	config := testConfig(synthTable(t, 200, "A", "B"))
	config.StartDate = testStart.AddDate(1, 0, 0)
	_, err := engine.Run(context.Background(), table, config)
	assert.ErrorIs(t, err, contracts.ErrInsufficientData)

	config.StartDate = time.Time{}
	config.InitialCapital = 0
	_, err = engine.Run(context.Background(), table, config)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	config.InitialCapital = 1e6
	_, err = engine.Run(ctx, table, config)
	assert.ErrorIs(t, err, context.Canceled)
}

type memRepo struct {
	index  []contracts.PricePoint
	stocks map[string][]contracts.PricePoint
}

func (m *memRepo) AssetPrices(_ context.Context, code string, from, to time.Time) ([]contracts.PricePoint, error) {
	return between(m.stocks[code], from, to), nil
}

func (m *memRepo) IndexPrices(_ context.Context, _ string, from, to time.Time) ([]contracts.PricePoint, error) {
	return between(m.index, from, to), nil
}

func between(points []contracts.PricePoint, from, to time.Time) []contracts.PricePoint {
	var out []contracts.PricePoint
	for _, p := range points {
		if !p.Date.Before(from) && !p.Date.After(to) {
			out = append(out, p)
		}
	}
	return out
}

func TestEngineRunStrategy(t *testing.T) {
	index, assets := synthPrices(200, "A", "B", "C")
	loader := marketdata.NewLoader(&memRepo{index: index, stocks: assets}, nil)
	engine := NewEngine(brain.NewOrchestrator(loader, nil, nil, nil, nil, nil, nil), loader, nil)

	cfg := &strategyconfig.Config{
		Meta:     strategyconfig.Meta{StrategyID: "test"},
		Universe: strategyconfig.Universe{MarketIndex: "KOSPI", Codes: []string{"A", "B", "C"}},
		Estimation: strategyconfig.Estimation{
			HistoryDays:     90,
			Lookback:        60,
			Frequency:       "D",
			ReturnMethod:    "simple",
			ExpectedMethod:  "historical",
			MinObservations: 30,
		},
		Backtest: strategyconfig.Backtest{InitialCapital: 1e8, Rebalance: "M", TransactionCostBps: 15},
	}
	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC)

	result, err := engine.RunStrategy(context.Background(), cfg, from, to)
	require.NoError(t, err)

	assert.InDelta(t, 0.0015, result.Config.TransactionCost, 1e-12)
	assert.Equal(t, from, result.StartDate)
	assert.Equal(t, to, result.EndDate)

	// 4/1 시작, 4/30, 5/31, 6/30 월말 (7/18은 월말 아님)
	require.Len(t, result.Rebalances, 4)
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), result.Rebalances[3].Date)
	assert.Zero(t, result.Fallbacks)
}

func TestEngineRunStrategy_NoLoader(t *testing.T) {
	_, err := newTestEngine().RunStrategy(context.Background(), &strategyconfig.Config{}, testStart, testStart)
	assert.Error(t, err)
}

func TestConfigFromStrategy(t *testing.T) {
	cfg := &strategyconfig.Config{
		Meta:     strategyconfig.Meta{StrategyID: "test"},
		Universe: strategyconfig.Universe{MarketIndex: "KOSPI", Codes: []string{"A"}},
		Estimation: strategyconfig.Estimation{
			Frequency:      "M",
			ReturnMethod:   "log",
			ExpectedMethod: "historical",
			Lookback:       36,
		},
		Optimization: strategyconfig.Optimization{RiskFreeRate: 0.12},
		Backtest:     strategyconfig.Backtest{InitialCapital: 5e7, Rebalance: "Q", TransactionCostBps: 20},
	}

	config, err := ConfigFromStrategy(cfg, testStart, testStart.AddDate(1, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, Rebalance{Kind: Quarterly}, config.Rebalance)
	assert.Equal(t, marketdata.Monthly, config.Frequency)
	assert.Equal(t, marketdata.LogReturns, config.ReturnMethod)
	assert.InDelta(t, 12.0, config.PeriodsPerYear, 1e-12)
	assert.InDelta(t, 0.002, config.TransactionCost, 1e-12)
	assert.InDelta(t, math.Pow(1.12, 1.0/12)-1, config.Settings.RiskFreeRate, 1e-12)

	assert.Nil(t, config.Winsorize)
	cfg.Estimation.Winsorize = &strategyconfig.Winsorize{Lower: 0.01, Upper: 0.99}
	config, err = ConfigFromStrategy(cfg, testStart, testStart)
	require.NoError(t, err)
	assert.Equal(t, cfg.Estimation.Winsorize, config.Winsorize)

	cfg.Backtest.Rebalance = "weekly"
	_, err = ConfigFromStrategy(cfg, testStart, testStart)
	assert.Error(t, err)
}

package brain

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/expected"
	"github.com/wonny/egp/internal/factor"
	"github.com/wonny/egp/internal/marketdata"
	"github.com/wonny/egp/internal/strategyconfig"
	"github.com/wonny/egp/pkg/metrics"
	"github.com/wonny/egp/pkg/redis"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// synthMarket is a deterministic market path with positive drift
func synthMarket(t int) float64 {
	return 0.0008 + 0.012*math.Sin(0.7*float64(t))
}

// synthAsset returns asset i's return at t: alpha + beta·market + idiosyncratic wiggle
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

func synthPanel(t *testing.T, n int, codes ...string) *contracts.ReturnPanel {
	t.Helper()
	dates := make([]time.Time, n)
	market := make([]float64, n)
	assets := make([]contracts.ReturnSeries, len(codes))
	for i := range assets {
		assets[i] = contracts.ReturnSeries{Code: codes[i], Returns: make([]float64, n)}
	}
	for k := 0; k < n; k++ {
		dates[k] = testStart.AddDate(0, 0, k+1)
		market[k] = synthMarket(k)
		for i, code := range codes {
			assets[i].Returns[k] = synthAsset(code, k)
		}
	}
	panel, err := contracts.NewReturnPanel(dates, market, assets)
	require.NoError(t, err)
	return panel
}

// pricePath compounds returns from a base of 100
func pricePath(days int, ret func(int) float64) []contracts.PricePoint {
	points := make([]contracts.PricePoint, days+1)
	price := 100.0
	points[0] = contracts.PricePoint{Date: testStart, Close: price}
	for k := 0; k < days; k++ {
		price *= 1 + ret(k)
		points[k+1] = contracts.PricePoint{Date: testStart.AddDate(0, 0, k+1), Close: price}
	}
	return points
}

type memRepo struct {
	index  map[string][]contracts.PricePoint
	stocks map[string][]contracts.PricePoint
}

func (m *memRepo) AssetPrices(_ context.Context, code string, from, to time.Time) ([]contracts.PricePoint, error) {
	return between(m.stocks[code], from, to), nil
}

func (m *memRepo) IndexPrices(_ context.Context, index string, from, to time.Time) ([]contracts.PricePoint, error) {
	return between(m.index[index], from, to), nil
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

func newMemRepo(days int, codes ...string) *memRepo {
	repo := &memRepo{
		index:  map[string][]contracts.PricePoint{"KOSPI": pricePath(days, synthMarket)},
		stocks: map[string][]contracts.PricePoint{},
	}
	for _, code := range codes {
		repo.stocks[code] = pricePath(days, func(k int) float64 { return synthAsset(code, k) })
	}
	return repo
}

func testStrategy() *strategyconfig.Config {
	maxW := 0.6
	return &strategyconfig.Config{
		Meta:     strategyconfig.Meta{StrategyID: "test"},
		Universe: strategyconfig.Universe{MarketIndex: "KOSPI", Codes: []string{"A", "B", "C"}},
		Estimation: strategyconfig.Estimation{
			HistoryDays:     120,
			Lookback:        60,
			Frequency:       "D",
			ReturnMethod:    "simple",
			ExpectedMethod:  "historical",
			MinObservations: 30,
		},
		Optimization: strategyconfig.Optimization{MaxWeight: &maxW},
		Backtest:     strategyconfig.Backtest{InitialCapital: 1e6, Rebalance: "M"},
	}
}

func newTestOrchestrator(repo contracts.PriceRepository) *Orchestrator {
	var loader *marketdata.Loader
	if repo != nil {
		loader = marketdata.NewLoader(repo, nil)
	}
	cache := redis.NewCache(redis.Disabled(), "egp-test")
	return NewOrchestrator(loader, factor.NewEstimator(2, nil), nil, nil, cache, metrics.New(prometheus.NewRegistry()), nil)
}

func TestConstruct(t *testing.T) {
	o := newTestOrchestrator(nil)
	panel := synthPanel(t, 60, "A", "B", "C")

	c, err := o.Construct(context.Background(), testStart, panel, Settings{
		Expected:    expected.HistoricalMean{},
		Constraints: contracts.LongOnly().WithMaxWeight(0.6),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{StageFactors, StageExpected, StageOptimize, StageStatistics, StagePortfolio}, c.CompletedStages)
	assert.Empty(t, c.Excluded)
	assert.Equal(t, 60, c.Params.Observations)

	w := c.Result.Weights
	assert.InDelta(t, 1.0, w.Sum(), 1e-6)
	for _, v := range w.Weights() {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 0.6+1e-6)
	}
	// A 상한 고정, B는 Z<0
	wa, _ := w.Get("A")
	wb, _ := w.Get("B")
	wc, _ := w.Get("C")
	assert.InDelta(t, 0.6, wa, 1e-9)
	assert.InDelta(t, 0.0, wb, 1e-12)
	assert.InDelta(t, 0.4, wc, 1e-9)
	assert.Equal(t, []string{"A"}, c.Result.Pinned)

	require.NotNil(t, c.Statistics)
	assert.Greater(t, c.Statistics.PortfolioStd, 0.0)
	require.NotNil(t, c.Target)
	assert.NotEmpty(t, c.Target.Positions)
	assert.InDelta(t, 1.0, c.Target.TotalWeight(), 1e-6)
}

func TestConstruct_DropFailedAssets(t *testing.T) {
	o := newTestOrchestrator(nil)
	panel := synthPanel(t, 60, "A", "FLAT", "B", "C")

	// 기본: 실패는 그대로 반환
	_, err := o.Construct(context.Background(), testStart, panel, Settings{})
	require.Error(t, err)
	var assetErr *factor.AssetError
	require.True(t, errors.As(err, &assetErr))
	assert.Equal(t, "FLAT", assetErr.Code)
	assert.ErrorIs(t, err, contracts.ErrDegenerateInput)

	// 제외 후 재시도
	c, err := o.Construct(context.Background(), testStart, panel, Settings{DropFailedAssets: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"FLAT"}, c.Excluded)
	assert.Equal(t, []string{"A", "B", "C"}, c.Result.Weights.Codes())
}

func TestConstruct_InfeasibleConstraint(t *testing.T) {
	o := newTestOrchestrator(nil)
	panel := synthPanel(t, 60, "A", "B", "C")

	c, err := o.Construct(context.Background(), testStart, panel, Settings{
		Constraints: contracts.LongOnly().WithMaxWeight(0.2),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrConstraintInfeasible)
	assert.Equal(t, []string{StageFactors, StageExpected}, c.CompletedStages)
}

func TestRun(t *testing.T) {
	repo := newMemRepo(150, "A", "B", "C")
	o := newTestOrchestrator(repo)

	result, err := o.Run(context.Background(), RunConfig{
		Date:       testStart.AddDate(0, 0, 149),
		RunID:      "run_test",
		Strategy:   testStrategy(),
		ConfigHash: "0123456789abcdef0123456789abcdef",
		Source:     "test",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "test", result.StrategyID)
	assert.Equal(t, []string{
		StagePrices, StageQuality, StageFactors, StageExpected,
		StageOptimize, StageStatistics, StagePortfolio,
	}, result.CompletedStages)

	require.NotNil(t, result.Quality)
	assert.Equal(t, 60, result.Quality.Observations)
	require.NotNil(t, result.Construction)
	assert.Equal(t, 60, result.Construction.Params.Observations)
	assert.InDelta(t, 1.0, result.Construction.Result.Weights.Sum(), 1e-6)
}

func TestRun_InsufficientHistory(t *testing.T) {
	repo := newMemRepo(150, "A", "B", "C")
	o := newTestOrchestrator(repo)

	cfg := testStrategy()
	cfg.Estimation.Lookback = 0
	cfg.Estimation.MinObservations = 500

	result, err := o.Run(context.Background(), RunConfig{
		Date:     testStart.AddDate(0, 0, 149),
		Strategy: cfg,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrInsufficientData)
	assert.False(t, result.Success)
	assert.Equal(t, []string{StagePrices}, result.CompletedStages)
	assert.Greater(t, int64(result.Duration), int64(0), "failed runs still report duration")
}

func TestFactorCacheKey(t *testing.T) {
	asOf := testStart.AddDate(0, 0, 61)
	base := synthPanel(t, 60, "A", "B", "C")

	key := factorCacheKey(base, asOf)
	assert.Regexp(t, `^factors:[0-9a-f]{24}:20240302$`, key)
	assert.Equal(t, key, factorCacheKey(synthPanel(t, 60, "A", "B", "C"), asOf), "same contents, same key")

	// 같은 날짜/설정이라도 늦게 들어온 종가로 패널이 바뀌면 새 키
	revised := synthPanel(t, 60, "A", "B", "C")
	revised.Assets[1].Returns[59] += 0.01
	assert.NotEqual(t, key, factorCacheKey(revised, asOf))

	revised = synthPanel(t, 60, "A", "B", "C")
	revised.Market[0] = -revised.Market[0]
	assert.NotEqual(t, key, factorCacheKey(revised, asOf))

	shifted := synthPanel(t, 60, "A", "B", "C")
	shifted.Dates[59] = shifted.Dates[59].AddDate(0, 0, 1)
	assert.NotEqual(t, key, factorCacheKey(shifted, asOf))

	assert.NotEqual(t, key, factorCacheKey(synthPanel(t, 60, "A", "C", "B"), asOf), "asset order is part of the key")
	assert.NotEqual(t, key, factorCacheKey(base, asOf.AddDate(0, 0, 1)))
}

func TestRun_RequiresStrategyAndLoader(t *testing.T) {
	_, err := newTestOrchestrator(newMemRepo(10, "A")).Run(context.Background(), RunConfig{})
	require.Error(t, err)

	_, err = newTestOrchestrator(nil).Run(context.Background(), RunConfig{Strategy: testStrategy()})
	require.Error(t, err)
}

func TestSettingsFromStrategy(t *testing.T) {
	cfg := testStrategy()
	cfg.Estimation.Frequency = "M"
	cfg.Estimation.ExpectedMethod = "factor"
	cfg.Optimization.RiskFreeRate = 0.035

	s, err := SettingsFromStrategy(cfg)
	require.NoError(t, err)
	assert.Equal(t, "test", s.StrategyID)
	assert.IsType(t, expected.FactorImplied{}, s.Expected)
	assert.InDelta(t, math.Pow(1.035, 1.0/12)-1, s.RiskFreeRate, 1e-15)
	require.NotNil(t, s.Constraints.MaxWeight)
	assert.InDelta(t, 0.6, *s.Constraints.MaxWeight, 1e-12)

	cfg.Estimation.ExpectedMethod = "oracle"
	_, err = SettingsFromStrategy(cfg)
	assert.Error(t, err)
}

func TestPanelRequestFor(t *testing.T) {
	cfg := testStrategy()
	cfg.Universe.Exclude = []string{"B"}
	asOf := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	req := PanelRequestFor(cfg, asOf)
	assert.Equal(t, []string{"A", "C"}, req.Codes)
	assert.Equal(t, "KOSPI", req.Index)
	assert.Equal(t, asOf.AddDate(0, 0, -120), req.From)
	assert.Equal(t, asOf, req.To)
	assert.Equal(t, marketdata.Daily, req.Frequency)
	assert.NoError(t, req.Validate())
}

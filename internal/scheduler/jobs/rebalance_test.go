package jobs

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/egp/internal/audit"
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
	default:
		return 0.0006 + 1.0*m + 0.005*math.Sin(3.1*x+1)
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

type memStore struct {
	records []*audit.RunRecord
	err     error
}

func (s *memStore) SaveRun(_ context.Context, rec *audit.RunRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

func testOrchestrator() *brain.Orchestrator {
	repo := &memRepo{index: pricePath(200, synthMarket), stocks: map[string][]contracts.PricePoint{}}
	for _, code := range []string{"A", "B", "C"} {
		repo.stocks[code] = pricePath(200, func(k int) float64 { return synthAsset(code, k) })
	}
	loader := marketdata.NewLoader(repo, nil)
	return brain.NewOrchestrator(loader, nil, nil, nil, nil, nil, nil)
}

func testStrategy() *strategyconfig.Config {
	return &strategyconfig.Config{
		Meta:     strategyconfig.Meta{StrategyID: "test", Timezone: "UTC"},
		Universe: strategyconfig.Universe{MarketIndex: "KOSPI", Codes: []string{"A", "B", "C"}},
		Estimation: strategyconfig.Estimation{
			HistoryDays:     120,
			Lookback:        60,
			Frequency:       "D",
			ReturnMethod:    "simple",
			ExpectedMethod:  "historical",
			MinObservations: 30,
		},
		Schedule: strategyconfig.Schedule{Enabled: true, Cron: "0 0 18 * * *"},
	}
}

func newTestJob(t *testing.T, cfg *strategyconfig.Config, store RunStore) *RebalanceJob {
	t.Helper()
	job, err := NewRebalanceJob(cfg, []byte("meta: {}"), testOrchestrator(), store, nil)
	require.NoError(t, err)
	// 2024-07-18 장 마감 후
	job.now = func() time.Time { return time.Date(2024, 7, 18, 18, 0, 0, 0, time.UTC) }
	return job
}

func TestRebalanceJob_Run(t *testing.T) {
	store := &memStore{}
	job := newTestJob(t, testStrategy(), store)

	assert.Equal(t, "rebalance_test", job.Name())
	assert.Equal(t, "CRON_TZ=UTC 0 0 18 * * *", job.Schedule())

	require.NoError(t, job.Run(context.Background()))

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.True(t, rec.Success)
	assert.Equal(t, "scheduler", rec.Source)
	assert.Equal(t, "test", rec.StrategyID)
	assert.Len(t, rec.Stages, 7)
	assert.Equal(t, time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC), rec.RunDate)

	sum := 0.0
	for _, w := range rec.Weights() {
		assert.GreaterOrEqual(t, w, 0.0)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)

	require.NotNil(t, rec.Snapshot)
	assert.Equal(t, rec.ConfigHash, rec.Snapshot.ConfigHash)
	assert.Equal(t, "prices_20240718", rec.Snapshot.DataSnapshotID)
}

func TestRebalanceJob_FailureIsRecorded(t *testing.T) {
	cfg := testStrategy()
	cfg.Estimation.MinObservations = 1000
	store := &memStore{}
	job := newTestJob(t, cfg, store)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrInsufficientData)

	require.Len(t, store.records, 1)
	assert.False(t, store.records[0].Success)
	assert.Equal(t, "insufficient_data", store.records[0].ErrorKind)
}

func TestRebalanceJob_StoreError(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	job := newTestJob(t, testStrategy(), store)

	err := job.Run(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestRebalanceJob_NilStore(t *testing.T) {
	job := newTestJob(t, testStrategy(), nil)
	assert.NoError(t, job.Run(context.Background()))
}

func TestNewRebalanceJob_BadTimezone(t *testing.T) {
	cfg := testStrategy()
	cfg.Meta.Timezone = "Mars/Olympus"
	_, err := NewRebalanceJob(cfg, nil, testOrchestrator(), nil, nil)
	assert.Error(t, err)
}

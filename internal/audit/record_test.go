package audit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/egp/internal/brain"
	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/portfolio"
	"github.com/wonny/egp/pkg/config"
	"github.com/wonny/egp/pkg/database"
)

func successfulRun() *brain.RunResult {
	return &brain.RunResult{
		RunID:           "run_20240131_000000_test",
		Date:            time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		StrategyID:      "test",
		ConfigHash:      "abc",
		Success:         true,
		CompletedStages: []string{brain.StagePrices, brain.StageQuality},
		Duration:        1500 * time.Millisecond,
		Construction: &brain.Construction{
			Target: &contracts.TargetPortfolio{
				Date: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
				Positions: []contracts.TargetPosition{
					{Code: "A", Weight: 0.6},
					{Code: "C", Weight: 0.4},
				},
			},
			Statistics: &portfolio.Statistics{SharpeRatio: 1.2},
			Excluded:   []string{"FLAT"},
		},
	}
}

func TestNewRunRecord(t *testing.T) {
	rec := NewRunRecord(successfulRun(), "scheduler", nil)

	assert.Equal(t, "run_20240131_000000_test", rec.RunID)
	assert.Equal(t, "scheduler", rec.Source)
	assert.True(t, rec.Success)
	assert.Empty(t, rec.ErrorKind)
	assert.Equal(t, int64(1500), rec.DurationMs)
	assert.Equal(t, []string{"FLAT"}, rec.Excluded)
	assert.Equal(t, map[string]float64{"A": 0.6, "C": 0.4}, rec.Weights())
	assert.InDelta(t, 1.2, rec.Statistics.SharpeRatio, 1e-12)
}

func TestNewRunRecord_Failure(t *testing.T) {
	result := &brain.RunResult{
		RunID:      "run_x",
		StrategyID: "test",
		Error:      fmt.Errorf("S5 failed: %w", contracts.ErrConstraintInfeasible),
	}

	rec := NewRunRecord(result, "cli", nil)

	assert.False(t, rec.Success)
	assert.Equal(t, "constraint_infeasible", rec.ErrorKind)
	assert.Contains(t, rec.Error, "S5 failed")
	assert.Nil(t, rec.Weights())
	assert.NotNil(t, rec.Stages)
}

func TestRepository_Integration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	db, err := database.New(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	repo := NewRepository(db.Pool)
	require.NoError(t, repo.EnsureSchema(ctx))

	rec := NewRunRecord(successfulRun(), "test", nil)
	rec.RunID = fmt.Sprintf("run_it_%d", time.Now().UnixNano())
	rec.StrategyID = "integration_" + rec.RunID
	require.NoError(t, repo.SaveRun(ctx, rec))

	got, err := repo.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, rec.Weights(), got.Weights())
	assert.Equal(t, rec.Stages, got.Stages)

	latest, err := repo.LatestRun(ctx, rec.StrategyID)
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, latest.RunID)

	_, err = repo.LatestRun(ctx, "missing_"+rec.RunID)
	assert.ErrorIs(t, err, ErrNotFound)
}

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/egp/internal/audit"
	"github.com/wonny/egp/internal/brain"
	"github.com/wonny/egp/internal/strategyconfig"
	"github.com/wonny/egp/pkg/logger"
)

// RunStore persists allocation runs
type RunStore interface {
	SaveRun(ctx context.Context, rec *audit.RunRecord) error
}

// RebalanceJob recomputes a strategy's target weights on its cron schedule
type RebalanceJob struct {
	strategy   *strategyconfig.Config
	yamlData   []byte
	configHash string
	location   *time.Location

	orchestrator *brain.Orchestrator
	store        RunStore
	logger       *logger.Logger

	now func() time.Time
}

// NewRebalanceJob creates a rebalance job for one strategy file. store may be nil.
func NewRebalanceJob(
	strategy *strategyconfig.Config,
	yamlData []byte,
	orchestrator *brain.Orchestrator,
	store RunStore,
	log *logger.Logger,
) (*RebalanceJob, error) {
	hash, err := strategyconfig.Hash(strategy)
	if err != nil {
		return nil, fmt.Errorf("hash strategy: %w", err)
	}

	loc := time.Local
	if tz := strategy.Meta.Timezone; tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("strategy timezone: %w", err)
		}
	}

	return &RebalanceJob{
		strategy:     strategy,
		yamlData:     yamlData,
		configHash:   hash,
		location:     loc,
		orchestrator: orchestrator,
		store:        store,
		logger:       logger.OrNop(log).WithComponent("rebalance_job"),
		now:          time.Now,
	}, nil
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "rebalance_" + j.strategy.Meta.StrategyID
}

// Schedule returns the strategy's cron expression, pinned to its timezone
func (j *RebalanceJob) Schedule() string {
	if tz := j.strategy.Meta.Timezone; tz != "" {
		return "CRON_TZ=" + tz + " " + j.strategy.Schedule.Cron
	}
	return j.strategy.Schedule.Cron
}

// Run executes the pipeline for today's date in the strategy timezone
func (j *RebalanceJob) Run(ctx context.Context) error {
	now := j.now().In(j.location)
	// 전략 시간대 기준 당일 (종가 확정 후 실행)
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, j.location)
	runID := fmt.Sprintf("%s_%s", brain.GenerateRunID(), j.strategy.Meta.StrategyID)

	j.logger.WithFields(map[string]interface{}{
		"run_id":      runID,
		"strategy_id": j.strategy.Meta.StrategyID,
		"date":        date.Format("2006-01-02"),
	}).Info("Starting scheduled rebalance")

	result, runErr := j.orchestrator.Run(ctx, brain.RunConfig{
		Date:       date,
		RunID:      runID,
		Strategy:   j.strategy,
		ConfigHash: j.configHash,
		Source:     "scheduler",
	})

	if err := j.save(ctx, result, date); err != nil {
		// 저장 실패는 계산 결과보다 우선하지 않음
		j.logger.WithError(err).WithField("run_id", runID).Error("Failed to save run")
		if runErr == nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("rebalance %s: %w", j.strategy.Meta.StrategyID, runErr)
	}

	if target := result.Construction.Target; target != nil {
		j.logger.WithFields(map[string]interface{}{
			"run_id":    runID,
			"positions": len(target.Positions),
			"sharpe":    result.Construction.Statistics.SharpeRatio,
		}).Info("Scheduled rebalance completed")
	}
	return nil
}

func (j *RebalanceJob) save(ctx context.Context, result *brain.RunResult, date time.Time) error {
	if j.store == nil || result == nil {
		return nil
	}
	snapshot, err := strategyconfig.NewDecisionSnapshot(j.strategy, j.yamlData, "", "prices_"+date.Format("20060102"))
	if err != nil {
		return err
	}
	return j.store.SaveRun(ctx, audit.NewRunRecord(result, "scheduler", snapshot))
}

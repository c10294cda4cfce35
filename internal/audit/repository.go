package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no run matches the query
var ErrNotFound = errors.New("run not found")

// Repository handles audit data persistence
// ⭐ SSOT: 배분 실행 기록 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS audit;
	CREATE TABLE IF NOT EXISTS audit.allocation_runs (
		run_id       TEXT PRIMARY KEY,
		strategy_id  TEXT NOT NULL,
		run_date     DATE NOT NULL,
		config_hash  TEXT NOT NULL,
		source       TEXT NOT NULL,
		success      BOOLEAN NOT NULL,
		error_kind   TEXT,
		error        TEXT,
		stages       JSONB NOT NULL,
		excluded     JSONB,
		target       JSONB,
		statistics   JSONB,
		snapshot     JSONB,
		duration_ms  BIGINT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS allocation_runs_strategy_idx
		ON audit.allocation_runs (strategy_id, created_at DESC);
`

// EnsureSchema creates the audit table when missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// SaveRun upserts a run record
func (r *Repository) SaveRun(ctx context.Context, rec *RunRecord) error {
	stages, err := json.Marshal(rec.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stages: %w", err)
	}
	excluded, err := marshalNullable(rec.Excluded, len(rec.Excluded) == 0)
	if err != nil {
		return err
	}
	target, err := marshalNullable(rec.Target, rec.Target == nil)
	if err != nil {
		return err
	}
	stats, err := marshalNullable(rec.Statistics, rec.Statistics == nil)
	if err != nil {
		return err
	}
	snapshot, err := marshalNullable(rec.Snapshot, rec.Snapshot == nil)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit.allocation_runs (
			run_id, strategy_id, run_date, config_hash, source, success,
			error_kind, error, stages, excluded, target, statistics, snapshot,
			duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (run_id) DO UPDATE SET
			success = EXCLUDED.success,
			error_kind = EXCLUDED.error_kind,
			error = EXCLUDED.error,
			stages = EXCLUDED.stages,
			excluded = EXCLUDED.excluded,
			target = EXCLUDED.target,
			statistics = EXCLUDED.statistics,
			duration_ms = EXCLUDED.duration_ms
	`

	_, err = r.pool.Exec(ctx, query,
		rec.RunID, rec.StrategyID, rec.RunDate, rec.ConfigHash, rec.Source, rec.Success,
		nullString(rec.ErrorKind), nullString(rec.Error), stages, excluded, target, stats, snapshot,
		rec.DurationMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.RunID, err)
	}

	return nil
}

const selectRun = `
	SELECT run_id, strategy_id, run_date, config_hash, source, success,
	       COALESCE(error_kind, ''), COALESCE(error, ''), stages, excluded, target, statistics, snapshot,
	       duration_ms, created_at
	FROM audit.allocation_runs
`

// GetRun retrieves a run by id
func (r *Repository) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	rows, err := r.pool.Query(ctx, selectRun+` WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRun)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rec, nil
}

// LatestRun returns the most recent successful run of a strategy
func (r *Repository) LatestRun(ctx context.Context, strategyID string) (*RunRecord, error) {
	rows, err := r.pool.Query(ctx,
		selectRun+` WHERE strategy_id = $1 AND success ORDER BY created_at DESC LIMIT 1`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRun)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no successful run for %s", ErrNotFound, strategyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return rec, nil
}

// ListRuns returns up to limit runs of a strategy, newest first
func (r *Repository) ListRuns(ctx context.Context, strategyID string, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		selectRun+` WHERE strategy_id = $1 ORDER BY created_at DESC LIMIT $2`, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return records, nil
}

func scanRun(row pgx.CollectableRow) (*RunRecord, error) {
	var rec RunRecord
	var stages, excluded, target, stats, snapshot []byte

	err := row.Scan(
		&rec.RunID, &rec.StrategyID, &rec.RunDate, &rec.ConfigHash, &rec.Source, &rec.Success,
		&rec.ErrorKind, &rec.Error, &stages, &excluded, &target, &stats, &snapshot,
		&rec.DurationMs, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, col := range []struct {
		data []byte
		dest interface{}
	}{
		{stages, &rec.Stages},
		{excluded, &rec.Excluded},
		{target, &rec.Target},
		{stats, &rec.Statistics},
		{snapshot, &rec.Snapshot},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run %s: %w", rec.RunID, err)
		}
	}
	return &rec, nil
}

func marshalNullable(v interface{}, isNull bool) ([]byte, error) {
	if isNull {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run payload: %w", err)
	}
	return data, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

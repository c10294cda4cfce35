// Package audit persists allocation runs so every published weight vector can be traced
// back to its inputs and strategy file.
package audit

import (
	"time"

	"github.com/wonny/egp/internal/brain"
	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/portfolio"
	"github.com/wonny/egp/internal/strategyconfig"
)

// RunRecord is one stored allocation decision
type RunRecord struct {
	RunID      string    `json:"run_id"`
	StrategyID string    `json:"strategy_id"`
	RunDate    time.Time `json:"run_date"`
	ConfigHash string    `json:"config_hash"`
	Source     string    `json:"source"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Stages     []string  `json:"stages"`
	Excluded   []string  `json:"excluded,omitempty"`

	Target     *contracts.TargetPortfolio       `json:"target,omitempty"`
	Statistics *portfolio.Statistics            `json:"statistics,omitempty"`
	Snapshot   *strategyconfig.DecisionSnapshot `json:"snapshot,omitempty"`

	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRunRecord flattens a pipeline result. snapshot may be nil.
func NewRunRecord(result *brain.RunResult, source string, snapshot *strategyconfig.DecisionSnapshot) *RunRecord {
	rec := &RunRecord{
		RunID:      result.RunID,
		StrategyID: result.StrategyID,
		RunDate:    result.Date,
		ConfigHash: result.ConfigHash,
		Source:     source,
		Success:    result.Success,
		Stages:     append([]string{}, result.CompletedStages...),
		Snapshot:   snapshot,
		DurationMs: result.Duration.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if result.Error != nil {
		rec.ErrorKind = contracts.ErrorKind(result.Error)
		rec.Error = result.Error.Error()
	}
	if c := result.Construction; c != nil {
		rec.Target = c.Target
		rec.Statistics = c.Statistics
		rec.Excluded = c.Excluded
	}
	return rec
}

// Weights returns the target weights by code (nil for failed runs)
func (r *RunRecord) Weights() map[string]float64 {
	if r.Target == nil {
		return nil
	}
	out := make(map[string]float64, len(r.Target.Positions))
	for _, p := range r.Target.Positions {
		out[p.Code] = p.Weight
	}
	return out
}

package optimizer

import (
	"time"

	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/portfolio"
	"github.com/wonny/egp/pkg/logger"
)

// Config controls the projection loop
type Config struct {
	MaxIterations int // <= 0 → portfolio.DefaultMaxIterations(N)
}

// Optimizer ranks assets and projects the scores onto the constraint set
// ⭐ SSOT: 비중 산출은 여기서만 (랭킹 → 제약 투영 → 불변식 검증)
type Optimizer struct {
	config Config
	logger *logger.Logger
}

// Result is one optimization outcome
type Result struct {
	Weights    contracts.WeightVector   `json:"weights"`
	Ranking    *contracts.RankingResult `json:"ranking"`
	Converged  bool                     `json:"converged"`
	Iterations int                      `json:"iterations"`
	Pinned     []string                 `json:"pinned,omitempty"`
	Dropped    []string                 `json:"dropped,omitempty"`
}

// NewOptimizer creates an optimizer
func NewOptimizer(config Config, log *logger.Logger) *Optimizer {
	return &Optimizer{
		config: config,
		logger: logger.OrNop(log).WithComponent("optimizer"),
	}
}

// Optimize computes constrained weights. Failures are terminal: no partial vector is returned.
func (o *Optimizer) Optimize(in Input, spec contracts.ConstraintSpec) (*Result, error) {
	start := time.Now()

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	ranking, err := Rank(in)
	if err != nil {
		return nil, err
	}

	proj, err := portfolio.Project(ranking.Scores, spec, o.config.MaxIterations)
	if err != nil {
		o.logger.WithError(err).WithFields(map[string]interface{}{
			"n_assets":   in.Len(),
			"c0":         ranking.C0,
			"iterations": proj.Iterations,
			"spec":       spec.String(),
		}).Debug("projection failed")
		return nil, err
	}

	if err := proj.Weights.Check(spec); err != nil {
		return nil, err
	}

	o.logger.WithFields(map[string]interface{}{
		"n_assets":    in.Len(),
		"n_nonzero":   proj.Weights.NonZero(1e-6),
		"c0":          ranking.C0,
		"iterations":  proj.Iterations,
		"pinned":      len(proj.Pinned),
		"dropped":     len(proj.Dropped),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("optimization completed")

	return &Result{
		Weights:    proj.Weights,
		Ranking:    ranking,
		Converged:  proj.Converged,
		Iterations: proj.Iterations,
		Pinned:     proj.Pinned,
		Dropped:    proj.Dropped,
	}, nil
}

// Optimize is the one-call form: vectors in, weights out.
func Optimize(
	expectedReturns, betas, residualVars contracts.AssetVector,
	marketVar, riskFree float64,
	spec contracts.ConstraintSpec,
) (contracts.WeightVector, error) {
	in := Input{
		ExpectedReturns:   expectedReturns,
		Betas:             betas,
		ResidualVariances: residualVars,
		MarketVariance:    marketVar,
		RiskFreeRate:      riskFree,
	}
	res, err := NewOptimizer(Config{}, nil).Optimize(in, spec)
	if err != nil {
		return contracts.WeightVector{}, err
	}
	return res.Weights, nil
}

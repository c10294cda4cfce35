// Package factor estimates single-index (market model) parameters per asset.
package factor

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/pkg/logger"
)

// RecommendedObservations is the window length below which estimates are flagged as noisy
const RecommendedObservations = 10

// residualTolerance is the relative floor under which residual variance counts as zero
const residualTolerance = 1e-12

// AssetError wraps an estimation failure for one asset so callers can drop it and retry
type AssetError struct {
	Code string
	Err  error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset %s: %v", e.Code, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// EstimateAsset regresses asset returns on market returns by OLS.
// Residual variance uses T-2 degrees of freedom.
func EstimateAsset(code string, asset, market []float64) (contracts.AssetFactor, error) {
	n := len(market)
	if len(asset) != n {
		return contracts.AssetFactor{}, fmt.Errorf("%w: %d asset returns, %d market returns",
			contracts.ErrAlignment, len(asset), n)
	}
	if n < 2 {
		return contracts.AssetFactor{}, fmt.Errorf("%w: %d observations, need at least 2",
			contracts.ErrInsufficientData, n)
	}
	if n == 2 {
		// T-2 = 0: 잔차분산 정의 불가
		return contracts.AssetFactor{}, fmt.Errorf("%w: residual variance undefined with 2 observations",
			contracts.ErrDegenerateInput)
	}
	if err := checkFinite(asset); err != nil {
		return contracts.AssetFactor{}, err
	}
	if err := checkFinite(market); err != nil {
		return contracts.AssetFactor{}, err
	}

	_, marketVar := stat.MeanVariance(market, nil)
	if !(marketVar > 0) {
		return contracts.AssetFactor{}, fmt.Errorf("%w: market returns have zero variance",
			contracts.ErrDegenerateInput)
	}

	alpha, beta := stat.LinearRegression(market, asset, nil, false)

	sse := 0.0
	for i := range asset {
		e := asset[i] - (alpha + beta*market[i])
		sse += e * e
	}
	dof := float64(n - 2)
	residualVar := sse / dof

	assetVar := stat.Variance(asset, nil)
	if residualVar <= residualTolerance*math.Max(assetVar, math.SmallestNonzeroFloat64) {
		return contracts.AssetFactor{}, fmt.Errorf("%w: residual variance %.3g is not positive",
			contracts.ErrDegenerateInput, residualVar)
	}

	// Σ(x-x̄)² = (T-1)·s²
	sxx := float64(n-1) * marketVar
	stdErrBeta := math.Sqrt(residualVar / sxx)

	return contracts.AssetFactor{
		Code:             code,
		Alpha:            alpha,
		Beta:             beta,
		ResidualVariance: residualVar,
		RSquared:         stat.RSquared(market, asset, nil, alpha, beta),
		StdErrBeta:       stdErrBeta,
		TStatBeta:        beta / stdErrBeta,
		Observations:     n,
	}, nil
}

// MarketVariance returns the sample variance (T-1) of market returns.
func MarketVariance(market []float64) (float64, error) {
	if len(market) < 2 {
		return 0, fmt.Errorf("%w: %d market observations, need at least 2",
			contracts.ErrInsufficientData, len(market))
	}
	if err := checkFinite(market); err != nil {
		return 0, err
	}
	v := stat.Variance(market, nil)
	if !(v > 0) {
		return 0, fmt.Errorf("%w: market returns have zero variance", contracts.ErrDegenerateInput)
	}
	return v, nil
}

func checkFinite(xs []float64) error {
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: non-finite return at index %d", contracts.ErrDegenerateInput, i)
		}
	}
	return nil
}

// Estimator runs per-asset regressions over a panel in parallel
// ⭐ SSOT: contracts.FactorEstimator 구현체
type Estimator struct {
	workers int
	log     *logger.Logger
}

var _ contracts.FactorEstimator = (*Estimator)(nil)

// NewEstimator creates an estimator. workers <= 0 uses runtime.NumCPU().
func NewEstimator(workers int, log *logger.Logger) *Estimator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Estimator{
		workers: workers,
		log:     logger.OrNop(log).WithComponent("factor"),
	}
}

// Workers returns the concurrency limit
func (e *Estimator) Workers() int {
	return e.workers
}

// Estimate fits every asset in the panel against the market series.
// The first per-asset failure cancels the rest and is returned as *AssetError.
func (e *Estimator) Estimate(ctx context.Context, panel *contracts.ReturnPanel) (*contracts.FactorParameters, error) {
	if panel == nil {
		return nil, fmt.Errorf("%w: nil panel", contracts.ErrInsufficientData)
	}
	if err := panel.Validate(); err != nil {
		return nil, err
	}

	marketVar, err := MarketVariance(panel.Market)
	if err != nil {
		return nil, err
	}

	n := panel.Len()
	if n < RecommendedObservations {
		e.log.WithFields(map[string]interface{}{
			"observations": n,
			"recommended":  RecommendedObservations,
		}).Warn("short estimation window, factor estimates will be noisy")
	}

	results := make([]contracts.AssetFactor, len(panel.Assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, series := range panel.Assets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := EstimateAsset(series.Code, series.Returns, panel.Market)
			if err != nil {
				return &AssetError{Code: series.Code, Err: err}
			}
			results[i] = f
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	params := &contracts.FactorParameters{
		Assets:         results,
		MarketVariance: marketVar,
		MarketMean:     stat.Mean(panel.Market, nil),
		Observations:   n,
	}

	e.log.WithFields(map[string]interface{}{
		"n_assets":        len(results),
		"observations":    n,
		"market_variance": marketVar,
	}).Debug("factor parameters estimated")

	return params, nil
}

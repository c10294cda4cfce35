package portfolio

import (
	"fmt"
	"math"

	"github.com/wonny/egp/internal/contracts"
)

// nonZeroTolerance is the weight magnitude counted as a held position
const nonZeroTolerance = 1e-6

// Statistics summarizes a weight vector under the single-index model
type Statistics struct {
	PortfolioReturn       float64 `json:"portfolio_return"`
	PortfolioVariance     float64 `json:"portfolio_variance"`
	PortfolioStd          float64 `json:"portfolio_std"`
	SharpeRatio           float64 `json:"sharpe_ratio"`
	Beta                  float64 `json:"beta"`
	SystematicVariance    float64 `json:"systematic_variance"`    // β_p²·σ²_m
	IdiosyncraticVariance float64 `json:"idiosyncratic_variance"` // Σ w²·σ²_ε
	NonZeroPositions      int     `json:"n_nonzero"`
	RiskFreeRate          float64 `json:"risk_free_rate"`
}

// ComputeStatistics evaluates β_p, σ²_p, E[R_p] and Sharpe for the given weights.
// Weights must cover exactly the input universe in the same order.
func ComputeStatistics(weights contracts.WeightVector, in contracts.ModelInput) (*Statistics, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if !weights.Vector().SameUniverse(in.Betas) {
		return nil, fmt.Errorf("%w: weights and model input cover different universes", contracts.ErrAlignment)
	}

	w := weights.Weights()
	betas := in.Betas.Values()
	resid := in.ResidualVariances.Values()
	expected := in.ExpectedReturns.Values()

	var beta, idio, ret float64
	for i := range w {
		beta += w[i] * betas[i]
		idio += w[i] * w[i] * resid[i]
		ret += w[i] * expected[i]
	}
	systematic := beta * beta * in.MarketVariance
	variance := systematic + idio

	if !(variance > 0) {
		return nil, fmt.Errorf("%w: portfolio variance %v", contracts.ErrDivideByZero, variance)
	}
	std := math.Sqrt(variance)

	return &Statistics{
		PortfolioReturn:       ret,
		PortfolioVariance:     variance,
		PortfolioStd:          std,
		SharpeRatio:           (ret - in.RiskFreeRate) / std,
		Beta:                  beta,
		SystematicVariance:    systematic,
		IdiosyncraticVariance: idio,
		NonZeroPositions:      weights.NonZero(nonZeroTolerance),
		RiskFreeRate:          in.RiskFreeRate,
	}, nil
}

// Annualize scales per-period figures: returns by p, variances by p, std and Sharpe by √p.
func (s Statistics) Annualize(periodsPerYear float64) Statistics {
	if periodsPerYear <= 0 {
		return s
	}
	root := math.Sqrt(periodsPerYear)
	out := s
	out.PortfolioReturn = s.PortfolioReturn * periodsPerYear
	out.RiskFreeRate = s.RiskFreeRate * periodsPerYear
	out.PortfolioVariance = s.PortfolioVariance * periodsPerYear
	out.SystematicVariance = s.SystematicVariance * periodsPerYear
	out.IdiosyncraticVariance = s.IdiosyncraticVariance * periodsPerYear
	out.PortfolioStd = s.PortfolioStd * root
	out.SharpeRatio = s.SharpeRatio * root
	return out
}

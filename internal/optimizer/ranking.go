// Package optimizer implements closed-form single-index ranking (cutoff C0 and scores Z)
// and the constrained allocation built on it.
package optimizer

import (
	"fmt"
	"math"

	"github.com/wonny/egp/internal/contracts"
)

// Input is the model input shared with portfolio statistics
type Input = contracts.ModelInput

// Cutoff computes A = Σ excess·β/σ²_ε, B = Σ β²/σ²_ε and C0 = σ²_m·A / (1 + σ²_m·B).
func Cutoff(in Input) (a, b, c0 float64, err error) {
	if err := in.Validate(); err != nil {
		return 0, 0, 0, err
	}

	expected := in.ExpectedReturns.Values()
	betas := in.Betas.Values()
	resid := in.ResidualVariances.Values()

	for i := range betas {
		excess := expected[i] - in.RiskFreeRate
		a += excess * betas[i] / resid[i]
		b += betas[i] * betas[i] / resid[i]
	}

	denom := 1 + in.MarketVariance*b
	if denom == 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return 0, 0, 0, fmt.Errorf("%w: cutoff denominator 1+σ²m·B is %v", contracts.ErrDegenerateInput, denom)
	}
	c0 = in.MarketVariance * a / denom

	return a, b, c0, nil
}

// Rank returns the cutoff and Z_i = excess_i/σ²_i − (β_i/σ²_i)·C0 for every asset.
// Z is a linear function of β, so zero or negative betas need no special casing.
func Rank(in Input) (*contracts.RankingResult, error) {
	a, b, c0, err := Cutoff(in)
	if err != nil {
		return nil, err
	}

	expected := in.ExpectedReturns.Values()
	betas := in.Betas.Values()
	resid := in.ResidualVariances.Values()

	z := make([]float64, len(betas))
	for i := range betas {
		excess := expected[i] - in.RiskFreeRate
		z[i] = excess/resid[i] - (betas[i]/resid[i])*c0
	}

	scores, err := contracts.NewAssetVector(in.Codes(), z)
	if err != nil {
		return nil, err
	}

	return &contracts.RankingResult{A: a, B: b, C0: c0, Scores: scores}, nil
}

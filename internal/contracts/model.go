package contracts

import (
	"fmt"
	"math"
)

// ModelInput is everything the ranking optimizer and portfolio statistics need for one universe
// ⭐ SSOT: 최적화/통계 공통 입력 (모든 벡터는 동일 유니버스·동일 순서)
type ModelInput struct {
	ExpectedReturns   AssetVector `json:"expected_returns"`
	Betas             AssetVector `json:"betas"`
	ResidualVariances AssetVector `json:"residual_variances"`
	MarketVariance    float64     `json:"market_variance"`
	RiskFreeRate      float64     `json:"risk_free_rate"`
}

// NewModelInput assembles an input from estimated parameters and expected returns.
func NewModelInput(params *FactorParameters, expected AssetVector, riskFree float64) (ModelInput, error) {
	if params == nil {
		return ModelInput{}, fmt.Errorf("%w: nil factor parameters", ErrInsufficientData)
	}
	betas, err := params.Betas()
	if err != nil {
		return ModelInput{}, err
	}
	residuals, err := params.ResidualVariances()
	if err != nil {
		return ModelInput{}, err
	}
	in := ModelInput{
		ExpectedReturns:   expected,
		Betas:             betas,
		ResidualVariances: residuals,
		MarketVariance:    params.MarketVariance,
		RiskFreeRate:      riskFree,
	}
	return in, in.Validate()
}

// Len returns the universe size
func (in ModelInput) Len() int {
	return in.Betas.Len()
}

// Codes returns the universe in order
func (in ModelInput) Codes() []string {
	return in.Betas.Codes()
}

// Validate checks universe alignment and strictly positive variances.
func (in ModelInput) Validate() error {
	n := in.Betas.Len()
	if n == 0 {
		return fmt.Errorf("%w: empty universe", ErrInsufficientData)
	}
	if in.ExpectedReturns.Len() != n || in.ResidualVariances.Len() != n {
		return fmt.Errorf("%w: %d expected returns, %d betas, %d residual variances",
			ErrAlignment, in.ExpectedReturns.Len(), n, in.ResidualVariances.Len())
	}
	if !in.Betas.SameUniverse(in.ExpectedReturns) || !in.Betas.SameUniverse(in.ResidualVariances) {
		return fmt.Errorf("%w: asset codes or order differ between inputs", ErrAlignment)
	}
	if math.IsNaN(in.MarketVariance) || math.IsInf(in.MarketVariance, 0) || in.MarketVariance <= 0 {
		return fmt.Errorf("%w: market variance %v must be > 0", ErrDegenerateInput, in.MarketVariance)
	}
	if math.IsNaN(in.RiskFreeRate) || math.IsInf(in.RiskFreeRate, 0) {
		return fmt.Errorf("%w: risk-free rate is not finite", ErrDegenerateInput)
	}
	for i := 0; i < n; i++ {
		code, v := in.ResidualVariances.At(i)
		if v <= 0 {
			return fmt.Errorf("%w: residual variance of %s is %v", ErrDegenerateInput, code, v)
		}
	}
	return nil
}

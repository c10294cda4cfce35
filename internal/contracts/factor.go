package contracts

import (
	"fmt"
)

// AssetFactor holds the single-index decomposition of one asset: R_i = α_i + β_i·R_m + ε_i
type AssetFactor struct {
	Code             string  `json:"code"`
	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
	ResidualVariance float64 `json:"residual_variance"` // σ²_ε, dof-corrected (T-2)
	RSquared         float64 `json:"r_squared"`
	StdErrBeta       float64 `json:"std_error_beta"`
	TStatBeta        float64 `json:"t_stat_beta"`
	Observations     int     `json:"n_observations"`
}

// FactorParameters is the estimation result for one window
// ⭐ SSOT: 추정 → 최적화 전달 계약. 생성 후 불변 (새 윈도우 = 새 인스턴스)
type FactorParameters struct {
	Assets         []AssetFactor `json:"assets"`
	MarketVariance float64       `json:"market_variance"`
	MarketMean     float64       `json:"market_mean"`
	Observations   int           `json:"n_observations"`
}

// Validate enforces strictly positive market and residual variances.
func (p *FactorParameters) Validate() error {
	if len(p.Assets) == 0 {
		return fmt.Errorf("%w: no assets in factor parameters", ErrInsufficientData)
	}
	if !(p.MarketVariance > 0) {
		return fmt.Errorf("%w: market variance %v must be > 0", ErrDegenerateInput, p.MarketVariance)
	}
	for _, a := range p.Assets {
		if !(a.ResidualVariance > 0) {
			return fmt.Errorf("%w: residual variance of %s is %v", ErrDegenerateInput, a.Code, a.ResidualVariance)
		}
	}
	return nil
}

// Codes returns the universe in estimation order
func (p *FactorParameters) Codes() []string {
	codes := make([]string, len(p.Assets))
	for i, a := range p.Assets {
		codes[i] = a.Code
	}
	return codes
}

// Get finds one asset's parameters
func (p *FactorParameters) Get(code string) (AssetFactor, bool) {
	for _, a := range p.Assets {
		if a.Code == code {
			return a, true
		}
	}
	return AssetFactor{}, false
}

// Betas returns β_i as an AssetVector
func (p *FactorParameters) Betas() (AssetVector, error) {
	return p.vector(func(a AssetFactor) float64 { return a.Beta })
}

// Alphas returns α_i as an AssetVector
func (p *FactorParameters) Alphas() (AssetVector, error) {
	return p.vector(func(a AssetFactor) float64 { return a.Alpha })
}

// ResidualVariances returns σ²_ε,i as an AssetVector
func (p *FactorParameters) ResidualVariances() (AssetVector, error) {
	return p.vector(func(a AssetFactor) float64 { return a.ResidualVariance })
}

// TotalVariances returns β²·σ²_m + σ²_ε per asset
func (p *FactorParameters) TotalVariances() (AssetVector, error) {
	return p.vector(func(a AssetFactor) float64 {
		return a.Beta*a.Beta*p.MarketVariance + a.ResidualVariance
	})
}

func (p *FactorParameters) vector(field func(AssetFactor) float64) (AssetVector, error) {
	values := make([]float64, len(p.Assets))
	for i, a := range p.Assets {
		values[i] = field(a)
	}
	return NewAssetVector(p.Codes(), values)
}

// RankingResult carries the universe-wide cutoff and per-asset ranking scores
type RankingResult struct {
	A      float64     `json:"a"`  // Σ excess·β/σ²_ε
	B      float64     `json:"b"`  // Σ β²/σ²_ε
	C0     float64     `json:"c0"` // cutoff constant
	Scores AssetVector `json:"z"`
}

package contracts

import (
	"context"
	"time"
)

// FactorEstimator turns an aligned return panel into single-index parameters
// ⭐ SSOT: 추정 인터페이스 (순수 함수, 로그 외 부작용 없음)
type FactorEstimator interface {
	Estimate(ctx context.Context, panel *ReturnPanel) (*FactorParameters, error)
}

// ExpectedReturnProvider supplies E[R_i] in the same universe order as params
type ExpectedReturnProvider interface {
	ExpectedReturns(panel *ReturnPanel, params *FactorParameters) (AssetVector, error)
}

// PricePoint is one closing price observation
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// PriceRepository loads closing prices for assets and the market index
type PriceRepository interface {
	AssetPrices(ctx context.Context, code string, from, to time.Time) ([]PricePoint, error)
	IndexPrices(ctx context.Context, index string, from, to time.Time) ([]PricePoint, error)
}

// Package expected supplies per-asset expected returns to the optimizer.
package expected

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/wonny/egp/internal/contracts"
)

// Method names accepted by ByName
const (
	MethodHistorical = "historical"
	MethodFactor     = "factor"
)

// HistoricalMean uses each asset's sample mean return over the window
type HistoricalMean struct{}

// FactorImplied uses α_i + β_i·E[R_m], with E[R_m] the window's market mean
type FactorImplied struct{}

// Static returns caller-supplied forecasts, checked against the estimated universe
type Static struct {
	Forecasts contracts.AssetVector
}

var (
	_ contracts.ExpectedReturnProvider = HistoricalMean{}
	_ contracts.ExpectedReturnProvider = FactorImplied{}
	_ contracts.ExpectedReturnProvider = Static{}
)

// ExpectedReturns implements contracts.ExpectedReturnProvider
func (HistoricalMean) ExpectedReturns(panel *contracts.ReturnPanel, params *contracts.FactorParameters) (contracts.AssetVector, error) {
	if panel == nil || params == nil {
		return contracts.AssetVector{}, fmt.Errorf("%w: historical mean needs panel and parameters", contracts.ErrInsufficientData)
	}

	codes := params.Codes()
	values := make([]float64, len(codes))
	for i, code := range codes {
		series, ok := panel.Series(code)
		if !ok {
			return contracts.AssetVector{}, fmt.Errorf("%w: %s missing from return panel", contracts.ErrAlignment, code)
		}
		if series.Len() == 0 {
			return contracts.AssetVector{}, fmt.Errorf("%w: %s has no returns", contracts.ErrInsufficientData, code)
		}
		values[i] = stat.Mean(series.Returns, nil)
	}
	return contracts.NewAssetVector(codes, values)
}

// ExpectedReturns implements contracts.ExpectedReturnProvider
func (FactorImplied) ExpectedReturns(panel *contracts.ReturnPanel, params *contracts.FactorParameters) (contracts.AssetVector, error) {
	if params == nil {
		return contracts.AssetVector{}, fmt.Errorf("%w: factor-implied returns need parameters", contracts.ErrInsufficientData)
	}

	marketMean := params.MarketMean
	if panel != nil && panel.Len() > 0 {
		marketMean = stat.Mean(panel.Market, nil)
	}

	codes := params.Codes()
	values := make([]float64, len(codes))
	for i, a := range params.Assets {
		values[i] = a.Alpha + a.Beta*marketMean
	}
	return contracts.NewAssetVector(codes, values)
}

// ExpectedReturns implements contracts.ExpectedReturnProvider
func (s Static) ExpectedReturns(_ *contracts.ReturnPanel, params *contracts.FactorParameters) (contracts.AssetVector, error) {
	if params == nil {
		return s.Forecasts, nil
	}
	// 추정 유니버스 순서로 재정렬, 누락/초과 코드는 정렬 오류
	return contracts.AssetVectorFromMap(params.Codes(), s.Forecasts.Map())
}

// ByName resolves a provider from configuration
func ByName(method string) (contracts.ExpectedReturnProvider, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "", MethodHistorical:
		return HistoricalMean{}, nil
	case MethodFactor:
		return FactorImplied{}, nil
	default:
		return nil, fmt.Errorf("unknown expected return method %q (want %s|%s)", method, MethodHistorical, MethodFactor)
	}
}

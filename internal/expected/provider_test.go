package expected

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/egp/internal/contracts"
)

func fixture(t *testing.T) (*contracts.ReturnPanel, *contracts.FactorParameters) {
	t.Helper()
	panel, err := contracts.NewReturnPanel(nil,
		[]float64{0.01, 0.03, -0.01, 0.01},
		[]contracts.ReturnSeries{
			{Code: "A", Returns: []float64{0.02, 0.04, 0.00, 0.02}},
			{Code: "B", Returns: []float64{0.01, -0.01, 0.01, 0.03}},
		})
	require.NoError(t, err)

	params := &contracts.FactorParameters{
		Assets: []contracts.AssetFactor{
			{Code: "A", Alpha: 0.01, Beta: 1.0, ResidualVariance: 0.001},
			{Code: "B", Alpha: 0.005, Beta: 0.5, ResidualVariance: 0.002},
		},
		MarketVariance: 0.0003,
		MarketMean:     0.01,
	}
	return panel, params
}

func TestHistoricalMean(t *testing.T) {
	panel, params := fixture(t)

	got, err := HistoricalMean{}.ExpectedReturns(panel, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got.Codes())
	assert.InDelta(t, 0.02, got.Values()[0], 1e-12)
	assert.InDelta(t, 0.01, got.Values()[1], 1e-12)
}

func TestHistoricalMean_MissingAsset(t *testing.T) {
	panel, params := fixture(t)
	params.Assets = append(params.Assets, contracts.AssetFactor{Code: "C", Beta: 1, ResidualVariance: 0.01})

	_, err := HistoricalMean{}.ExpectedReturns(panel, params)
	assert.ErrorIs(t, err, contracts.ErrAlignment)
}

func TestFactorImplied(t *testing.T) {
	panel, params := fixture(t)

	got, err := FactorImplied{}.ExpectedReturns(panel, params)
	require.NoError(t, err)
	// α + β·mean(Rm), mean(Rm) = 0.01
	assert.InDelta(t, 0.02, got.Values()[0], 1e-12)
	assert.InDelta(t, 0.01, got.Values()[1], 1e-12)

	// 패널 없으면 추정 시점의 시장 평균 사용
	got, err = FactorImplied{}.ExpectedReturns(nil, params)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, got.Values()[0], 1e-12)
}

func TestStatic(t *testing.T) {
	_, params := fixture(t)

	s := Static{Forecasts: contracts.MustAssetVector([]string{"B", "A"}, []float64{0.05, 0.08})}
	got, err := s.ExpectedReturns(nil, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got.Codes())
	assert.Equal(t, []float64{0.08, 0.05}, got.Values())

	bad := Static{Forecasts: contracts.MustAssetVector([]string{"A"}, []float64{0.08})}
	_, err = bad.ExpectedReturns(nil, params)
	assert.ErrorIs(t, err, contracts.ErrAlignment)
}

func TestByName(t *testing.T) {
	tests := []struct {
		method  string
		want    contracts.ExpectedReturnProvider
		wantErr bool
	}{
		{"historical", HistoricalMean{}, false},
		{"", HistoricalMean{}, false},
		{"FACTOR", FactorImplied{}, false},
		{"capm", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got, err := ByName(tt.method)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

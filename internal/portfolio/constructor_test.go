package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/egp/internal/contracts"
)

func TestConstructor_Construct(t *testing.T) {
	codes := []string{"A", "B", "C"}
	weights, err := contracts.NewWeightVector(codes, []float64{0.3, 0, 0.7})
	require.NoError(t, err)
	ranking := &contracts.RankingResult{
		C0:     0.05,
		Scores: contracts.MustAssetVector(codes, []float64{0.2, -0.1, 0.5}),
	}
	params := &contracts.FactorParameters{
		Assets: []contracts.AssetFactor{
			{Code: "A", Beta: 1.1, ResidualVariance: 0.01},
			{Code: "B", Beta: 0.9, ResidualVariance: 0.01},
			{Code: "C", Beta: 0.7, ResidualVariance: 0.01},
		},
		MarketVariance: 0.02,
	}
	date := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

	c := NewConstructor(DefaultPortfolioConfig(), nil)
	target, err := c.Construct(context.Background(), date, weights, ranking, params)
	require.NoError(t, err)

	assert.Equal(t, date, target.Date)
	assert.Equal(t, 0.0, target.Cash)
	require.Equal(t, 2, target.Count(), "zero weights are omitted")
	assert.Equal(t, "C", target.Positions[0].Code)
	assert.Equal(t, 0.7, target.Positions[0].Weight)
	assert.Equal(t, 0.7, target.Positions[0].Beta)
	assert.Equal(t, contracts.ActionBuy, target.Positions[0].Action)
	assert.Contains(t, target.Positions[0].Reason, "Z rank 1/3")
	assert.InDelta(t, 1.0, target.TotalWeight(), 1e-12)
}

func TestConstructor_ShortPosition(t *testing.T) {
	codes := []string{"A", "B"}
	weights, err := contracts.NewWeightVector(codes, []float64{1.25, -0.25})
	require.NoError(t, err)
	ranking := &contracts.RankingResult{Scores: contracts.MustAssetVector(codes, []float64{0.5, -0.1})}

	target, err := NewConstructor(DefaultPortfolioConfig(), nil).
		Construct(context.Background(), time.Now(), weights, ranking, nil)
	require.NoError(t, err)

	pos, ok := target.GetPosition("B")
	require.True(t, ok)
	assert.Equal(t, contracts.ActionSell, pos.Action)
	assert.Contains(t, pos.Reason, "Short")
}

func TestConstructor_Misaligned(t *testing.T) {
	weights, err := contracts.NewWeightVector([]string{"A", "B"}, []float64{0.5, 0.5})
	require.NoError(t, err)
	ranking := &contracts.RankingResult{Scores: contracts.MustAssetVector([]string{"B", "A"}, []float64{1, 1})}

	_, err = NewConstructor(DefaultPortfolioConfig(), nil).
		Construct(context.Background(), time.Now(), weights, ranking, nil)
	assert.ErrorIs(t, err, contracts.ErrAlignment)
}

func TestEqualWeight(t *testing.T) {
	w, err := EqualWeight([]string{"A", "B", "C", "D"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, w.Weights())
	require.NoError(t, w.Check(contracts.LongOnly()))

	_, err = EqualWeight(nil)
	assert.ErrorIs(t, err, contracts.ErrInsufficientData)
}

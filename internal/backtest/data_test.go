package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/marketdata"
)

func points(start time.Time, closes ...float64) []contracts.PricePoint {
	out := make([]contracts.PricePoint, len(closes))
	for i, c := range closes {
		out[i] = contracts.PricePoint{Date: start.AddDate(0, 0, i), Close: c}
	}
	return out
}

func TestNewPriceTable_InnerJoin(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	index := points(day, 100, 101, 102, 103)
	a := points(day, 10, 11, 12, 13)
	// B는 셋째 날 거래 없음
	b := append(points(day, 20, 21), points(day.AddDate(0, 0, 3), 24)...)

	table, err := NewPriceTable(index, map[string][]contracts.PricePoint{"A": a, "B": b},
		[]string{"A", "B"}, marketdata.Daily, marketdata.SimpleReturns)
	require.NoError(t, err)

	require.Equal(t, 3, table.Len())
	assert.Equal(t, []float64{100, 101, 103}, table.Index)
	assert.Equal(t, []float64{10, 11, 13}, table.Closes["A"])
	assert.Equal(t, map[string]float64{"A": 13, "B": 24}, table.PricesAt(2))

	require.Equal(t, 2, table.Returns.Len())
	assert.Equal(t, table.Dates[1:], table.Returns.Dates)
	assert.InDelta(t, 0.01, table.Returns.Market[0], 1e-12)
	series, ok := table.Returns.Series("B")
	require.True(t, ok)
	assert.InDelta(t, 24.0/21-1, series.Returns[1], 1e-12)
}

func TestNewPriceTable_Errors(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	index := points(day, 100, 101)

	_, err := NewPriceTable(index, nil, nil, marketdata.Daily, marketdata.SimpleReturns)
	assert.ErrorIs(t, err, contracts.ErrInsufficientData)

	// 공통 날짜 1개
	_, err = NewPriceTable(index, map[string][]contracts.PricePoint{"A": points(day, 10)},
		[]string{"A"}, marketdata.Daily, marketdata.SimpleReturns)
	assert.ErrorIs(t, err, contracts.ErrInsufficientData)

	_, err = NewPriceTable(index, map[string][]contracts.PricePoint{"A": points(day, 10, 0)},
		[]string{"A"}, marketdata.Daily, marketdata.LogReturns)
	assert.ErrorIs(t, err, contracts.ErrDegenerateInput)
}

func TestFirstRowOnOrAfter(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	table, err := NewPriceTable(points(day, 1, 2, 3), map[string][]contracts.PricePoint{"A": points(day, 1, 2, 3)},
		[]string{"A"}, marketdata.Daily, marketdata.SimpleReturns)
	require.NoError(t, err)

	assert.Equal(t, 0, table.FirstRowOnOrAfter(time.Time{}))
	assert.Equal(t, 1, table.FirstRowOnOrAfter(day.Add(time.Hour)))
	assert.Equal(t, 3, table.FirstRowOnOrAfter(day.AddDate(1, 0, 0)))
}

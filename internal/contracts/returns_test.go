package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPanel(t *testing.T) *ReturnPanel {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, 5)
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i)
	}
	p, err := NewReturnPanel(dates,
		[]float64{0.01, -0.02, 0.015, 0.005, -0.01},
		[]ReturnSeries{
			{Code: "A", Returns: []float64{0.02, -0.03, 0.02, 0.01, -0.02}},
			{Code: "B", Returns: []float64{0.00, -0.01, 0.01, 0.00, 0.00}},
		})
	require.NoError(t, err)
	return p
}

func TestReturnPanel_Validate(t *testing.T) {
	_, err := NewReturnPanel(nil, []float64{0.1, 0.2}, []ReturnSeries{{Code: "A", Returns: []float64{0.1}}})
	assert.ErrorIs(t, err, ErrAlignment)

	_, err = NewReturnPanel(nil, []float64{0.1}, nil)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = NewReturnPanel(nil, []float64{0.1}, []ReturnSeries{
		{Code: "A", Returns: []float64{0.1}},
		{Code: "A", Returns: []float64{0.2}},
	})
	assert.ErrorIs(t, err, ErrAlignment)
}

func TestReturnPanel_Window(t *testing.T) {
	p := testPanel(t)

	w, err := p.Window(4, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, []float64{0.015, 0.005}, w.Market)
	assert.Equal(t, p.Dates[2], w.Dates[0])

	// 윈도우는 독립 사본
	w.Market[0] = 99
	assert.Equal(t, 0.015, p.Market[2])

	all, err := p.Window(5, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, all.Len())

	_, err = p.Window(6, 2)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestReturnPanel_Without(t *testing.T) {
	p := testPanel(t)

	q, err := p.Without("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, q.Codes())
	assert.Equal(t, []string{"A", "B"}, p.Codes())
}

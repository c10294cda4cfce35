package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", formatNumber(0))
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "100,000,000", formatNumber(100_000_000))
	assert.Equal(t, "-1,234,567", formatNumber(-1234567))
}

func TestFormatPct(t *testing.T) {
	assert.Equal(t, "12.34%", formatPct(0.1234))
	assert.Equal(t, "-5.00%", formatPct(-0.05))
}

func TestParseDateFlag(t *testing.T) {
	def := time.Date(2024, 6, 28, 15, 30, 0, 0, time.UTC)

	d, err := parseDateFlag("", def)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC), d)

	d, err = parseDateFlag("2023-01-02", def)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), d)

	_, err = parseDateFlag("02/01/2023", def)
	assert.Error(t, err)
}

func TestMaskPassword(t *testing.T) {
	assert.Equal(t, "postgresql://egp:xxxxx@db:5432/egp", maskPassword("postgresql://egp:secret@db:5432/egp"))
	assert.Equal(t, "postgresql://db:5432/egp", maskPassword("postgresql://db:5432/egp"))
	assert.Equal(t, "", maskPassword(""))
}

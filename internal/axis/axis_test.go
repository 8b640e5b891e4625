package axis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeClamp(t *testing.T) {
	r := Range{Min: 950, Max: 17100}
	tests := []struct {
		in   float64
		want float64
	}{
		{1000, 1000},
		{0, 950},
		{20000, 17100},
		{math.NaN(), 950},
		{math.Inf(1), 950},
		{math.Inf(-1), 950},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Clamp(tt.in), "Clamp(%v)", tt.in)
	}
}

func TestGroupAndField(t *testing.T) {
	assert.Equal(t, "whiteBalance", Group(RedGain))
	assert.Equal(t, "red", Field(RedGain))
	assert.Equal(t, "", Group("bare"))
	assert.Equal(t, "bare", Field("bare"))
}

func TestCatalogWithRanges(t *testing.T) {
	c := Default().WithRanges(map[string]Range{
		Zoom:      {Min: 0, Max: 100},
		"unknown": {Min: 0, Max: 1},
		Pan:       {Min: 10, Max: 0},
	})

	zoom, ok := c.Lookup(Zoom)
	require.True(t, ok)
	assert.Equal(t, Range{0, 100}, zoom.Range)
	assert.Equal(t, 100.0, zoom.Default)

	pan, _ := c.Lookup(Pan)
	assert.Equal(t, Range{-170, 170}, pan.Range, "inverted ranges are rejected")

	_, ok = c.Lookup("unknown")
	assert.False(t, ok)

	orig, _ := Default().Lookup(Zoom)
	assert.Equal(t, 950.0, orig.Default)
}

func TestFraction(t *testing.T) {
	r := Range{Min: -170, Max: 170}
	assert.InDelta(t, 0.5, r.Fraction(0), 1e-9)
	assert.Equal(t, 0.0, Range{5, 5}.Fraction(5))
}

package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// jacobian builds J = scale * S(g1,g2) * R(theta).
func jacobian(scale, g1, g2, theta float64) WCS {
	k := 1 / math.Sqrt(1-g1*g1-g2*g2)
	s11, s12 := k*(1+g1), k*g2
	s21, s22 := k*g2, k*(1-g1)
	c, s := math.Cos(theta), math.Sin(theta)
	return WCS{
		DuDx: scale * (s11*c + s12*s),
		DuDy: scale * (-s11*s + s12*c),
		DvDx: scale * (s21*c + s22*s),
		DvDy: scale * (-s21*s + s22*c),
	}
}

func TestToWorldToPixelRoundTrip(t *testing.T) {
	w := WCS{DuDx: 0.26, DuDy: 0.03, DvDx: -0.02, DvDy: 0.24}
	u, v := w.ToWorld(3.5, -1.25)
	dx, dy := w.ToPixel(u, v)
	assert.InDelta(t, 3.5, dx, 1e-12)
	assert.InDelta(t, -1.25, dy, 1e-12)
}

func TestDecomposeScaleOnly(t *testing.T) {
	dec := WCS{DuDx: 0.26, DvDy: 0.26}.Decompose()
	assert.InDelta(t, 0.26, dec.Scale, 1e-12)
	assert.InDelta(t, 0, dec.G1, 1e-12)
	assert.InDelta(t, 0, dec.G2, 1e-12)
	assert.InDelta(t, 0, dec.Theta, 1e-12)
	assert.False(t, dec.Flip)
}

func TestDecomposeRecoversComponents(t *testing.T) {
	cases := []struct {
		scale, g1, g2, theta float64
	}{
		{0.2, 0, 0, 0.7},
		{0.26, 0.05, 0, 0},
		{0.26, 0.04, -0.03, 0.3},
		{1.5, -0.1, 0.2, -1.1},
	}
	for _, c := range cases {
		dec := jacobian(c.scale, c.g1, c.g2, c.theta).Decompose()
		assert.InDelta(t, c.scale, dec.Scale, 1e-10)
		assert.InDelta(t, c.g1, dec.G1, 1e-10)
		assert.InDelta(t, c.g2, dec.G2, 1e-10)
		assert.InDelta(t, c.theta, dec.Theta, 1e-10)
		assert.False(t, dec.Flip)
	}
}

func TestDecomposeFlip(t *testing.T) {
	// Swapped axes: negative determinant.
	w := WCS{DuDy: 0.26, DvDx: 0.26}
	dec := w.Decompose()
	assert.True(t, dec.Flip)
	assert.InDelta(t, 0.26, dec.Scale, 1e-12)
	assert.InDelta(t, 0, dec.G1, 1e-12)
	assert.InDelta(t, 0, dec.G2, 1e-12)
}

func TestPixelArea(t *testing.T) {
	w := WCS{DuDy: 0.26, DvDx: 0.26}
	assert.InDelta(t, 0.26*0.26, w.PixelArea(), 1e-15)
	assert.InDelta(t, -0.26*0.26, w.Det(), 1e-15)
}

package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShearAddIdentity(t *testing.T) {
	s := Shear{G1: 0.2, G2: -0.1}
	got := s.Add(Shear{})
	assert.InDelta(t, s.G1, got.G1, 1e-15)
	assert.InDelta(t, s.G2, got.G2, 1e-15)

	got = Shear{}.Add(s)
	assert.InDelta(t, s.G1, got.G1, 1e-15)
	assert.InDelta(t, s.G2, got.G2, 1e-15)
}

func TestShearAddRealAxis(t *testing.T) {
	// Along a single axis the composition is the Moebius addition of
	// real numbers, so the round trip is exact.
	s := Shear{G1: 0.1}
	u := Shear{G1: 0.2}
	sum := s.Add(u)
	assert.InDelta(t, 0.3/(1+0.02), sum.G1, 1e-15)
	assert.InDelta(t, 0.0, sum.G2, 1e-15)

	back := sum.Sub(u)
	assert.InDelta(t, s.G1, back.G1, 1e-12)
	assert.InDelta(t, s.G2, back.G2, 1e-12)
}

func TestShearRotate(t *testing.T) {
	s := Shear{G1: 0.15, G2: -0.05}

	full := s.Rotate(math.Pi)
	assert.InDelta(t, s.G1, full.G1, 1e-12)
	assert.InDelta(t, s.G2, full.G2, 1e-12)

	quarter := s.Rotate(math.Pi / 2)
	assert.InDelta(t, -s.G1, quarter.G1, 1e-12)
	assert.InDelta(t, -s.G2, quarter.G2, 1e-12)
}

func TestDistortionRoundTrip(t *testing.T) {
	s := Shear{G1: 0.3, G2: -0.2}
	e1, e2 := s.Distortion()
	back := ShearFromDistortion(e1, e2)
	assert.InDelta(t, s.G1, back.G1, 1e-12)
	assert.InDelta(t, s.G2, back.G2, 1e-12)
}

func TestShapeSizeShearRoundTrip(t *testing.T) {
	m := Moments{Size: 0.73, G1: 0.12, G2: -0.31}
	shape := m.Shape()
	size, shear := shape.SizeShear()
	assert.InDelta(t, m.Size, size, 1e-12)
	assert.InDelta(t, m.G1, shear.G1, 1e-12)
	assert.InDelta(t, m.G2, shear.G2, 1e-12)
}

func TestShapeIsCovarianceTrace(t *testing.T) {
	// e0 equals Cuu+Cvv, e1 equals Cuu-Cvv and e2 equals 2*Cuv for a
	// Gaussian with the same size and shear, which is what makes the
	// basis additive under convolution.
	sigma, g1, g2 := 0.8, 0.1, -0.2
	f := sigma * sigma / (1 - g1*g1 - g2*g2)
	cuu := f * ((1+g1)*(1+g1) + g2*g2)
	cuv := f * 2 * g2
	cvv := f * ((1-g1)*(1-g1) + g2*g2)

	shape := Moments{Size: sigma, G1: g1, G2: g2}.Shape()
	assert.InDelta(t, cuu+cvv, shape.E0, 1e-12)
	assert.InDelta(t, cuu-cvv, shape.E1, 1e-12)
	assert.InDelta(t, 2*cuv, shape.E2, 1e-12)
}

package domain

import "math"

// Moment measurement status codes. Anything nonzero means the numeric
// outputs must not be trusted.
const (
	MomentOK           = 0
	MomentNotConverged = 1
	MomentSingular     = 2
	MomentRunaway      = 3
	MomentTooFewPixels = 4
	MomentNoFlux       = 5
	MomentOutsideImage = 6
)

// Moments holds the adaptive-moment measurement of a star image in
// world coordinates: flux, centroid offset, size and reduced shear.
type Moments struct {
	Flux   float64
	U0     float64
	V0     float64
	Size   float64
	G1     float64
	G2     float64
	Status int
}

func (m Moments) OK() bool { return m.Status == MomentOK }

func (m Moments) Shear() Shear { return Shear{m.G1, m.G2} }

// Shape is the unnormalized second-moment basis (e0, e1, e2). It is
// additive under convolution of independent Gaussian-like components,
// unlike the reduced shear.
type Shape struct {
	E0 float64
	E1 float64
	E2 float64
}

// Shape converts (size, g1, g2) to the unnormalized e-moment basis:
//
//	e0 = sqrt(4 sigma^4 / (1 - e1n^2 - e2n^2)),  e_i = e0 * e_in
//
// where (e1n, e2n) is the normalized distortion of the shear.
func (m Moments) Shape() Shape {
	e1n, e2n := m.Shear().Distortion()
	e0 := math.Sqrt(4 * math.Pow(m.Size, 4) / (1 - e1n*e1n - e2n*e2n))
	return Shape{E0: e0, E1: e0 * e1n, E2: e0 * e2n}
}

// SizeShear inverts Shape back to (size, shear). This is the seeding
// direction; Moments.Shape is the chi-square direction, and the two
// must stay consistent.
func (s Shape) SizeShear() (size float64, shear Shear) {
	e1n := s.E1 / s.E0
	e2n := s.E2 / s.E0
	sigma4 := s.E0 * s.E0 * (1 - e1n*e1n - e2n*e2n) / 4
	return math.Pow(sigma4, 0.25), ShearFromDistortion(e1n, e2n)
}

func (s Shape) Finite() bool {
	return !math.IsNaN(s.E0) && !math.IsInf(s.E0, 0) &&
		!math.IsNaN(s.E1) && !math.IsInf(s.E1, 0) &&
		!math.IsNaN(s.E2) && !math.IsInf(s.E2, 0)
}

// ShapeErrors are the propagated 1-sigma uncertainties on the measured
// flux, centroid and e-moments of a star.
type ShapeErrors struct {
	Flux float64
	U0   float64
	V0   float64
	E0   float64
	E1   float64
	E2   float64
}

func NaNShapeErrors() ShapeErrors {
	n := math.NaN()
	return ShapeErrors{n, n, n, n, n, n}
}

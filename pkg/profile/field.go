package profile

import (
	"fmt"
	"math"

	"starpsf/internal/domain"
)

// Aberration response coefficients: how resolved wavefront terms
// perturb the rendered Gaussian. Defocus-like terms (z4, z11) inflate
// the size; astigmatism pairs (z5/z6) shear directly; the coma/trefoil
// pairs (z7*z9, z8*z10) couple quadratically into the shear.
const (
	defocusResponse = 0.1
	astigResponse   = 0.1
	comaResponse    = 0.02
)

// NFieldParams is the length of a resolved field-parameter vector:
// [size, g1, g2, z4..z11].
const NFieldParams = 11

// GaussianField maps a resolved field-parameter vector into an
// elliptical Gaussian and renders it on the star's stamp. It is the
// FieldRenderer used by the population fitter.
type GaussianField struct {
	base *Gaussian
}

func NewGaussianField() *GaussianField {
	return &GaussianField{base: NewGaussian(true)}
}

// ShapeParams reduces a resolved field vector to the (scale, g1, g2)
// of the rendered Gaussian. Exposed so tests can predict shapes
// without rendering.
func (f *GaussianField) ShapeParams(resolved []float64) (scale, g1, g2 float64, err error) {
	if len(resolved) != NFieldParams {
		return 0, 0, 0, fmt.Errorf("%w: resolved field vector has %d entries, want %d", domain.ErrModelFit, len(resolved), NFieldParams)
	}
	size := resolved[0]
	z := resolved[3:] // z4..z11
	quad := 1 + defocusResponse*(z[0]*z[0]+z[7]*z[7])
	scale = size * math.Sqrt(quad)
	extra := domain.Shear{
		G1: astigResponse*z[1] + comaResponse*z[3]*z[5],
		G2: astigResponse*z[2] + comaResponse*z[4]*z[6],
	}
	sh := domain.Shear{G1: resolved[1], G2: resolved[2]}.Add(extra)
	return scale, sh.G1, sh.G2, nil
}

func (f *GaussianField) RenderAt(star *domain.Star, resolved []float64) (*domain.Image, error) {
	scale, g1, g2, err := f.ShapeParams(resolved)
	if err != nil {
		return nil, err
	}
	return f.base.Render([]float64{scale, g1, g2}, 1.0, [2]float64{}, star)
}

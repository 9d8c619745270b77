package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starpsf/internal/domain"
)

func TestShapeParamsPassThrough(t *testing.T) {
	f := NewGaussianField()
	resolved := make([]float64, NFieldParams)
	resolved[0] = 0.15
	resolved[1] = 0.03
	resolved[2] = -0.02

	scale, g1, g2, err := f.ShapeParams(resolved)
	require.NoError(t, err)
	assert.InDelta(t, 0.15, scale, 1e-15)
	assert.InDelta(t, 0.03, g1, 1e-12)
	assert.InDelta(t, -0.02, g2, 1e-12)
}

func TestShapeParamsDefocusInflatesSize(t *testing.T) {
	f := NewGaussianField()
	resolved := make([]float64, NFieldParams)
	resolved[0] = 0.15
	resolved[3] = 0.8 // z4

	scale, _, _, err := f.ShapeParams(resolved)
	require.NoError(t, err)
	assert.Greater(t, scale, 0.15)
}

func TestShapeParamsAstigmatismShears(t *testing.T) {
	f := NewGaussianField()
	resolved := make([]float64, NFieldParams)
	resolved[0] = 0.15
	resolved[4] = 0.5 // z5

	_, g1, g2, err := f.ShapeParams(resolved)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, g1, 1e-12)
	assert.InDelta(t, 0, g2, 1e-12)
}

func TestShapeParamsLengthCheck(t *testing.T) {
	f := NewGaussianField()
	_, _, _, err := f.ShapeParams([]float64{0.15, 0, 0})
	assert.ErrorIs(t, err, domain.ErrModelFit)
}

func TestRenderAtUnitFlux(t *testing.T) {
	f := NewGaussianField()
	star := blankStar(64, domain.WCS{DuDx: 0.1, DvDy: 0.1})
	resolved := make([]float64, NFieldParams)
	resolved[0] = 0.15
	resolved[1] = 0.02

	im, err := f.RenderAt(star, resolved)
	require.NoError(t, err)
	assert.InEpsilon(t, 1, im.Sum(), 1e-4)
}

package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starpsf/internal/domain"
)

func blankStar(size int, wcs domain.WCS) *domain.Star {
	weight := domain.NewImage(size, size)
	for i := range weight.Pix {
		weight.Pix[i] = 1
	}
	return &domain.Star{
		Image:  domain.NewImage(size, size),
		Weight: weight,
		WCS:    wcs,
	}
}

func TestGaussianFluxNormalization(t *testing.T) {
	star := blankStar(64, domain.WCS{DuDx: 0.26, DvDy: 0.26})
	im, err := NewGaussian(false).Render([]float64{0, 0, 0.5, 0.1, -0.05}, 123, [2]float64{}, star)
	require.NoError(t, err)
	assert.InEpsilon(t, 123, im.Sum(), 1e-5)
}

func TestGaussianCovarianceDeterminant(t *testing.T) {
	cov := Covariance(0.7, 0.2, -0.1)
	det := cov.Cuu*cov.Cvv - cov.Cuv*cov.Cuv
	assert.InDelta(t, 0.7*0.7*0.7*0.7, det, 1e-12)
}

func TestGaussianConvolutionWidensProfile(t *testing.T) {
	star := blankStar(64, domain.WCS{DuDx: 0.26, DvDy: 0.26})
	g := NewGaussian(false)
	params := []float64{0, 0, 0.5, 0, 0}

	bare, err := g.Render(params, 100, [2]float64{}, star)
	require.NoError(t, err)

	conv := *star
	conv.Aux = &domain.GaussianMoments{Cuu: 0.16, Cvv: 0.16}
	wide, err := g.Render(params, 100, [2]float64{}, &conv)
	require.NoError(t, err)

	assert.Less(t, wide.Max(), bare.Max())
	assert.InEpsilon(t, bare.Sum(), wide.Sum(), 1e-4)
}

func TestGaussianRejectsBadParams(t *testing.T) {
	star := blankStar(32, domain.IdentityWCS())
	g := NewGaussian(false)

	_, err := g.Render([]float64{0, 0, 0.5, 0.9, 0.9}, 1, [2]float64{}, star)
	assert.ErrorIs(t, err, domain.ErrModelFit)

	_, err = g.Render([]float64{0, 0, -1, 0, 0}, 1, [2]float64{}, star)
	assert.ErrorIs(t, err, domain.ErrModelFit)

	_, err = g.Render([]float64{0.5, 0, 0}, 1, [2]float64{}, star)
	assert.ErrorIs(t, err, domain.ErrModelFit)
}

func TestGaussianForceCenterLayout(t *testing.T) {
	assert.Equal(t, 3, NewGaussian(true).NParams())
	assert.Equal(t, 5, NewGaussian(false).NParams())
	assert.True(t, NewGaussian(true).ForceCenter())

	star := blankStar(32, domain.IdentityWCS())
	centered, err := NewGaussian(true).Render([]float64{2, 0, 0}, 10, [2]float64{1.5, -0.5}, star)
	require.NoError(t, err)
	free, err := NewGaussian(false).Render([]float64{1.5, -0.5, 2, 0, 0}, 10, [2]float64{}, star)
	require.NoError(t, err)
	assert.Equal(t, free.Pix, centered.Pix)
}

// Package profile provides Renderer implementations: parametric PSF
// profiles drawn directly into postage-stamp images.
package profile

import (
	"fmt"
	"math"

	"starpsf/internal/domain"
)

// Gaussian renders an elliptical Gaussian profile, the reference model
// for PSF fitting. The fiducial profile has unit flux and unit size;
// parameters dilate, shear and shift it towards the data.
type Gaussian struct {
	forceCenter bool
}

// NewGaussian returns a Gaussian renderer. With forceCenter true the
// model centroid is pinned to the origin and the centroid offset is
// carried separately in the fit record ([scale, g1, g2] parameters);
// otherwise the offset is part of the parameter vector
// ([du, dv, scale, g1, g2]).
func NewGaussian(forceCenter bool) *Gaussian {
	return &Gaussian{forceCenter: forceCenter}
}

func (g *Gaussian) ForceCenter() bool { return g.forceCenter }

func (g *Gaussian) NParams() int {
	if g.forceCenter {
		return 3
	}
	return 5
}

// Covariance returns the world-coordinate second-moment covariance of
// a Gaussian with the given scale and shear. det of the result is
// scale^4, so the adaptive-moment size of the profile is exactly scale.
func Covariance(scale, g1, g2 float64) domain.GaussianMoments {
	gsq := g1*g1 + g2*g2
	f := scale * scale / (1 - gsq)
	return domain.GaussianMoments{
		Cuu: f * ((1+g1)*(1+g1) + g2*g2),
		Cuv: f * 2 * g2,
		Cvv: f * ((1-g1)*(1-g1) + g2*g2),
	}
}

func splitParams(params []float64, center [2]float64, forceCenter bool) (du, dv, scale, g1, g2 float64) {
	if forceCenter {
		return center[0], center[1], params[0], params[1], params[2]
	}
	return params[0], params[1], params[2], params[3], params[4]
}

func (g *Gaussian) Render(params []float64, flux float64, center [2]float64, star *domain.Star) (*domain.Image, error) {
	if len(params) != g.NParams() {
		return nil, fmt.Errorf("%w: got %d profile parameters, want %d", domain.ErrModelFit, len(params), g.NParams())
	}
	du, dv, scale, g1, g2 := splitParams(params, center, g.forceCenter)
	if g1*g1+g2*g2 >= 1 {
		return nil, fmt.Errorf("%w: shear magnitude %.3f outside unit disk", domain.ErrModelFit, math.Hypot(g1, g2))
	}
	if scale <= 0 {
		return nil, fmt.Errorf("%w: non-positive scale %g", domain.ErrModelFit, scale)
	}

	cov := Covariance(scale, g1, g2)
	if star.Aux != nil {
		cov.Cuu += star.Aux.Cuu
		cov.Cuv += star.Aux.Cuv
		cov.Cvv += star.Aux.Cvv
	}
	det := cov.Cuu*cov.Cvv - cov.Cuv*cov.Cuv
	if det <= 0 {
		return nil, fmt.Errorf("%w: degenerate covariance", domain.ErrModelFit)
	}
	iuu := cov.Cvv / det
	ivv := cov.Cuu / det
	iuv := -cov.Cuv / det

	im := domain.NewImage(star.Image.Width, star.Image.Height)
	cx, cy := star.Image.CenterX(), star.Image.CenterY()
	norm := flux * star.WCS.PixelArea() / (2 * math.Pi * math.Sqrt(det))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			u, v := star.WCS.ToWorld(float64(x)-cx, float64(y)-cy)
			ru := u - du
			rv := v - dv
			z := 0.5 * (iuu*ru*ru + 2*iuv*ru*rv + ivv*rv*rv)
			im.Set(x, y, norm*math.Exp(-z))
		}
	}
	return im, nil
}

package profile

import (
	"fmt"
	"math"

	"starpsf/internal/domain"
)

// Moffat renders an elliptical Moffat profile with shape parameter
// beta. The fiducial profile has unit flux and unit half-light radius.
type Moffat struct {
	beta        float64
	alpha       float64
	forceCenter bool
}

func NewMoffat(beta float64, forceCenter bool) (*Moffat, error) {
	if beta <= 1 {
		return nil, fmt.Errorf("%w: moffat beta must exceed 1, got %g", domain.ErrConfiguration, beta)
	}
	// alpha chosen so the unit profile has half-light radius 1.
	alpha := 1 / math.Sqrt(math.Pow(2, 1/(beta-1))-1)
	return &Moffat{beta: beta, alpha: alpha, forceCenter: forceCenter}, nil
}

func (m *Moffat) ForceCenter() bool { return m.forceCenter }

func (m *Moffat) NParams() int {
	if m.forceCenter {
		return 3
	}
	return 5
}

func (m *Moffat) Render(params []float64, flux float64, center [2]float64, star *domain.Star) (*domain.Image, error) {
	if len(params) != m.NParams() {
		return nil, fmt.Errorf("%w: got %d profile parameters, want %d", domain.ErrModelFit, len(params), m.NParams())
	}
	if star.Aux != nil {
		// Convolution with an auxiliary profile has no closed form for
		// a Moffat; only the Gaussian renderer supports composite fits.
		return nil, fmt.Errorf("%w: moffat renderer cannot convolve an auxiliary profile", domain.ErrModelFit)
	}
	du, dv, scale, g1, g2 := splitParams(params, center, m.forceCenter)
	gsq := g1*g1 + g2*g2
	if gsq >= 1 {
		return nil, fmt.Errorf("%w: shear magnitude %.3f outside unit disk", domain.ErrModelFit, math.Hypot(g1, g2))
	}
	if scale <= 0 {
		return nil, fmt.Errorf("%w: non-positive scale %g", domain.ErrModelFit, scale)
	}

	// Inverse of the unit-determinant shear matrix; |det A| = scale^2
	// for the full transform A = scale * S.
	kp := 1 / math.Sqrt(1-gsq)
	s11 := kp * (1 - g1) / scale
	s12 := -kp * g2 / scale
	s22 := kp * (1 + g1) / scale

	peak := (m.beta - 1) / (math.Pi * m.alpha * m.alpha)
	norm := flux * star.WCS.PixelArea() / (scale * scale)

	im := domain.NewImage(star.Image.Width, star.Image.Height)
	cx, cy := star.Image.CenterX(), star.Image.CenterY()
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			u, v := star.WCS.ToWorld(float64(x)-cx, float64(y)-cy)
			ru := u - du
			rv := v - dv
			pu := s11*ru + s12*rv
			pv := s12*ru + s22*rv
			rsq := (pu*pu + pv*pv) / (m.alpha * m.alpha)
			im.Set(x, y, norm*peak*math.Pow(1+rsq, -m.beta))
		}
	}
	return im, nil
}

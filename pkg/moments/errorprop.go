package moments

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"starpsf/internal/domain"
)

// Calibration multipliers bringing the analytic noise propagation into
// agreement with empirical scatter. Applied per moment channel.
const (
	fluxCalibration     = 1.0
	centroidCalibration = 2.0
	e0Calibration       = 1.5
	e1Calibration       = 2.0
	e2Calibration       = 2.0
)

// ErrorPropagator converts per-pixel noise levels into uncertainties on
// the measured moments. It evaluates weighted pixel sums against a
// noise-free matched kernel: the Gaussian with the star's own measured
// size and shear, rendered on the star's stamp and normalized to unit
// peak.
type ErrorPropagator struct {
	measurer *Measurer
	renderer domain.Renderer
	logger   *zap.Logger
}

func NewErrorPropagator(m *Measurer, r domain.Renderer, logger *zap.Logger) *ErrorPropagator {
	return &ErrorPropagator{measurer: m, renderer: r, logger: logger}
}

// Propagate returns shape-space uncertainties (flux, centroid, e0, e1,
// e2) for the star. The star's own moments are used when present,
// otherwise they are measured first. On failure the NaN error vector is
// returned along with the error so callers can record the star as
// unusable without special-casing.
func (p *ErrorPropagator) Propagate(star *domain.Star) (domain.ShapeErrors, error) {
	var mom domain.Moments
	if star.Moments != nil && star.Moments.OK() {
		mom = *star.Moments
	} else {
		mom = p.measurer.MeasureStar(star)
	}
	if !mom.OK() {
		return domain.NaNShapeErrors(), fmt.Errorf("%w: moment status %d", domain.ErrMomentFailure, mom.Status)
	}

	kernel, err := p.matchedKernel(star, mom)
	if err != nil {
		return domain.NaNShapeErrors(), err
	}

	w, h := star.Image.Width, star.Image.Height
	cx, cy := star.Image.CenterX(), star.Image.CenterY()

	var norm float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if star.Weight.At(x, y) <= 0 {
				continue
			}
			norm += star.Image.At(x, y) * kernel.At(x, y)
		}
	}
	if norm <= 0 {
		return domain.NaNShapeErrors(), fmt.Errorf("%w: matched kernel normalization is not positive", domain.ErrMomentFailure)
	}

	// Kernel-weighted centroid, then the per-pixel noise sigma enters
	// each moment sum in quadrature.
	var u0c, v0c float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if star.Weight.At(x, y) <= 0 {
				continue
			}
			u, v := star.WCS.ToWorld(float64(x)-cx, float64(y)-cy)
			dk := star.Image.At(x, y) * kernel.At(x, y)
			u0c += dk * u
			v0c += dk * v
		}
	}
	u0c /= norm
	v0c /= norm

	var s2Flux, s2U0, s2V0 float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			wt := star.Weight.At(x, y)
			if wt <= 0 {
				continue
			}
			u, v := star.WCS.ToWorld(float64(x)-cx, float64(y)-cy)
			sk := kernel.At(x, y) / math.Sqrt(wt)
			s2Flux += sk * sk
			s2U0 += sk * sk * (u - u0c) * (u - u0c)
			s2V0 += sk * sk * (v - v0c) * (v - v0c)
		}
	}
	sigmaFlux := 2 * math.Sqrt(s2Flux) * fluxCalibration
	sigmaU0 := centroidCalibration * math.Sqrt(s2U0) / norm
	sigmaV0 := centroidCalibration * math.Sqrt(s2V0) / norm

	// Second-moment channels, including the leakage of centroid
	// uncertainty into each.
	var s2E0, s2E1, s2E2 float64
	var c2E0u, c2E0v, c2E2u, c2E2v float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			wt := star.Weight.At(x, y)
			if wt <= 0 {
				continue
			}
			u, v := star.WCS.ToWorld(float64(x)-cx, float64(y)-cy)
			du := u - u0c
			dv := v - v0c
			sk := kernel.At(x, y) / math.Sqrt(wt)
			dk := star.Image.At(x, y) * kernel.At(x, y)

			t0 := 2 * sk * (du*du + dv*dv)
			t1 := 2 * sk * (du*du - dv*dv)
			t2 := 2 * sk * 2 * du * dv
			s2E0 += t0 * t0
			s2E1 += t1 * t1
			s2E2 += t2 * t2

			gu := 4 * du * dk * sigmaU0
			gv := 4 * dv * dk * sigmaV0
			c2E0u += gu * gu
			c2E0v += gv * gv
			hu := 4 * dv * dk * sigmaU0
			hv := 4 * du * dk * sigmaV0
			c2E2u += hu * hu
			c2E2v += hv * hv
		}
	}
	n2 := norm * norm
	sigmaE0 := e0Calibration * math.Sqrt((s2E0+c2E0u+c2E0v)/n2)
	sigmaE1 := e1Calibration * math.Sqrt((s2E1+c2E0u+c2E0v)/n2)
	sigmaE2 := e2Calibration * math.Sqrt((s2E2+c2E2u+c2E2v)/n2)

	errs := domain.ShapeErrors{
		Flux: sigmaFlux,
		U0:   sigmaU0,
		V0:   sigmaV0,
		E0:   sigmaE0,
		E1:   sigmaE1,
		E2:   sigmaE2,
	}
	if p.logger != nil {
		p.logger.Debug("propagated moment errors",
			zap.Float64("sigma_e0", sigmaE0),
			zap.Float64("sigma_e1", sigmaE1),
			zap.Float64("sigma_e2", sigmaE2))
	}
	return errs, nil
}

// matchedKernel renders the noise-free Gaussian with the star's
// measured size and shear, peak-normalized. Any auxiliary profile is
// deliberately excluded: the kernel matches the total observed light.
func (p *ErrorPropagator) matchedKernel(star *domain.Star, mom domain.Moments) (*domain.Image, error) {
	bare := *star
	bare.Aux = nil

	var params []float64
	center := [2]float64{mom.U0, mom.V0}
	if p.renderer.ForceCenter() {
		params = []float64{mom.Size, mom.G1, mom.G2}
	} else {
		params = []float64{mom.U0, mom.V0, mom.Size, mom.G1, mom.G2}
	}
	kernel, err := p.renderer.Render(params, 1.0, center, &bare)
	if err != nil {
		return nil, fmt.Errorf("%w: matched kernel render: %v", domain.ErrMomentFailure, err)
	}
	peak := kernel.Max()
	if peak <= 0 {
		return nil, fmt.Errorf("%w: matched kernel has no positive pixels", domain.ErrMomentFailure)
	}
	for i := range kernel.Pix {
		kernel.Pix[i] /= peak
	}
	return kernel, nil
}

// Package moments measures adaptive (HSM-style) image moments of star
// postage stamps and propagates pixel noise into moment uncertainties.
package moments

import (
	"math"

	"starpsf/internal/domain"
)

// Measurer computes flux, centroid, size and shear of a star image via
// iterative Gaussian-weighted second moments. Failures are reported
// through the Moments status flag rather than an error: callers decide
// how a non-converged measurement propagates.
type Measurer struct {
	MaxIter   int
	Tol       float64
	MinPixels int
}

func NewMeasurer() *Measurer {
	return &Measurer{
		MaxIter:   400,
		Tol:       1e-12,
		MinPixels: 5,
	}
}

// MeasureStar measures the star's own image.
func (m *Measurer) MeasureStar(star *domain.Star) domain.Moments {
	return m.Measure(star.Image, star.Weight, star.WCS)
}

// Measure runs the adaptive-moment iteration on image with the given
// weight map and local WCS. Pixels participate in a binary sense: any
// pixel with nonzero weight is included, the rest are excluded; the
// weight values themselves do not enter the moment sums.
func (m *Measurer) Measure(image, weight *domain.Image, wcs domain.WCS) domain.Moments {
	w, h := image.Width, image.Height
	cx, cy := image.CenterX(), image.CenterY()

	included := 0
	var sumI, sumX, sumY float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if weight.At(x, y) == 0 {
				continue
			}
			included++
			v := image.At(x, y)
			if v > 0 {
				sumI += v
				sumX += v * float64(x)
				sumY += v * float64(y)
			}
		}
	}
	if included < m.MinPixels {
		return domain.Moments{Status: domain.MomentTooFewPixels}
	}
	if sumI <= 0 {
		return domain.Moments{Status: domain.MomentNoFlux}
	}

	x0 := sumX / sumI
	y0 := sumY / sumI
	mxx, mxy, myy := 4.0, 0.0, 4.0

	sizeLimit := float64((w + h) * (w + h))
	var b0 float64
	converged := false
	for iter := 0; iter < m.MaxIter; iter++ {
		det := mxx*myy - mxy*mxy
		if det <= 0 || mxx <= 0 || myy <= 0 {
			return domain.Moments{Status: domain.MomentSingular}
		}
		ixx := myy / det
		iyy := mxx / det
		ixy := -mxy / det

		var bx, by, bxx, bxy, byy float64
		b0 = 0
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if weight.At(x, y) == 0 {
					continue
				}
				dx := float64(x) - x0
				dy := float64(y) - y0
				z := 0.5 * (ixx*dx*dx + 2*ixy*dx*dy + iyy*dy*dy)
				if z > 25 {
					continue
				}
				f := math.Exp(-z) * image.At(x, y)
				b0 += f
				bx += f * dx
				by += f * dy
				bxx += f * dx * dx
				bxy += f * dx * dy
				byy += f * dy * dy
			}
		}
		if b0 <= 0 {
			return domain.Moments{Status: domain.MomentNoFlux}
		}

		shiftX := bx / b0
		shiftY := by / b0
		x0 += shiftX
		y0 += shiftY

		dxx := 2*bxx/b0 - mxx
		dxy := 2*bxy/b0 - mxy
		dyy := 2*byy/b0 - myy
		mxx += dxx
		mxy += dxy
		myy += dyy

		if mxx+myy > sizeLimit {
			return domain.Moments{Status: domain.MomentRunaway}
		}
		if x0 < -1 || x0 > float64(w) || y0 < -1 || y0 > float64(h) {
			return domain.Moments{Status: domain.MomentOutsideImage}
		}

		trace := mxx + myy
		if math.Abs(dxx) < m.Tol*trace && math.Abs(dyy) < m.Tol*trace &&
			math.Abs(dxy) < m.Tol*trace &&
			math.Abs(shiftX) < m.Tol*math.Sqrt(trace) &&
			math.Abs(shiftY) < m.Tol*math.Sqrt(trace) {
			converged = true
			break
		}
	}
	if !converged {
		return domain.Moments{Status: domain.MomentNotConverged}
	}

	// Local moments are in pixel coordinates; carry them to world units
	// through the Jacobian decomposition. The parity flip negates the
	// first shear component before composing with the Jacobian's own
	// rotation and shear.
	dec := wcs.Decompose()

	det := mxx*myy - mxy*mxy
	size := math.Pow(det, 0.25) * dec.Scale

	trace := mxx + myy
	shape := domain.ShearFromDistortion((mxx-myy)/trace, 2*mxy/trace)
	if dec.Flip {
		shape.G1 = -shape.G1
	}
	shape = shape.Rotate(dec.Theta)
	shape = domain.Shear{G1: dec.G1, G2: dec.G2}.Add(shape)

	u0, v0 := wcs.ToWorld(x0-cx, y0-cy)

	return domain.Moments{
		Flux:   2 * b0,
		U0:     u0,
		V0:     v0,
		Size:   size,
		G1:     shape.G1,
		G2:     shape.G2,
		Status: domain.MomentOK,
	}
}

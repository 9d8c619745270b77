package domain

import "math"

// WCS is a local linear pixel-to-world transform: the Jacobian
// d(u,v)/d(x,y) at the star position.
type WCS struct {
	DuDx float64
	DuDy float64
	DvDx float64
	DvDy float64
}

// IdentityWCS is the trivial transform with unit pixel scale.
func IdentityWCS() WCS {
	return WCS{DuDx: 1, DvDy: 1}
}

// ToWorld maps a pixel offset to a world offset.
func (w WCS) ToWorld(dx, dy float64) (u, v float64) {
	return w.DuDx*dx + w.DuDy*dy, w.DvDx*dx + w.DvDy*dy
}

// ToPixel maps a world offset back to pixels.
func (w WCS) ToPixel(u, v float64) (dx, dy float64) {
	det := w.Det()
	return (w.DvDy*u - w.DuDy*v) / det, (-w.DvDx*u + w.DuDx*v) / det
}

func (w WCS) Det() float64 {
	return w.DuDx*w.DvDy - w.DuDy*w.DvDx
}

// PixelArea is the world-coordinate area of one pixel.
func (w WCS) PixelArea() float64 {
	return math.Abs(w.Det())
}

// Decomposition of the Jacobian as J = scale * Shear(g1,g2) * Rot(theta) * Flip,
// with the flip applied first (it swaps the pixel axes when the
// determinant is negative).
type Decomposition struct {
	Scale float64
	G1    float64
	G2    float64
	Theta float64
	Flip  bool
}

// Decompose splits the Jacobian into scale, shear, rotation and parity
// flip. Moment measurements made in pixel coordinates are carried to
// world coordinates by applying these pieces in order: flip, rotation,
// then composing the Jacobian's own shear.
func (w WCS) Decompose() Decomposition {
	dudx, dudy := w.DuDx, w.DuDy
	dvdx, dvdy := w.DvDx, w.DvDy

	det := dudx*dvdy - dudy*dvdx
	flip := det < 0
	if flip {
		// Remove the flip by swapping the pixel axes (columns).
		dudx, dudy = dudy, dudx
		dvdx, dvdy = dvdy, dvdx
		det = -det
	}

	// With J = scale * S(g) * R(theta):
	//   dudx+dvdy = 2 k cos(theta)
	//   dvdx-dudy = 2 k sin(theta)
	//   dudx-dvdy = 2 k (g1 cos(theta) + g2 sin(theta))
	//   dudy+dvdx = 2 k (g2 cos(theta) - g1 sin(theta))
	// where k = scale / sqrt(1-|g|^2).
	a := dudx + dvdy
	d := dvdx - dudy
	b := dudx - dvdy
	c := dudy + dvdx

	theta := math.Atan2(d, a)
	twoK := math.Hypot(a, d)

	cosT, sinT := math.Cos(theta), math.Sin(theta)
	g1 := (b*cosT - c*sinT) / twoK
	g2 := (b*sinT + c*cosT) / twoK

	return Decomposition{
		Scale: math.Sqrt(det),
		G1:    g1,
		G2:    g2,
		Theta: theta,
		Flip:  flip,
	}
}

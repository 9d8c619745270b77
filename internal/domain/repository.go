package domain

// Renderer draws a parametric profile into a pixel image shaped like
// the star's data, for direct comparison against the observed pixels.
// Rendering must be deterministic for identical inputs and must fold in
// star.Aux when it is set.
type Renderer interface {
	// Render draws the profile described by params, scaled by flux and
	// shifted by center (du, dv in world units). The params layout is
	// [scale, g1, g2] when ForceCenter is true, else
	// [du, dv, scale, g1, g2] with center ignored.
	Render(params []float64, flux float64, center [2]float64, star *Star) (*Image, error)

	// NParams is the length of the parameter vector.
	NParams() int

	// ForceCenter reports whether the model centroid is pinned to the
	// origin with the offset carried separately.
	ForceCenter() bool
}

// FieldRenderer renders a star's model image from the full
// field-parameter vector resolved at the star's position
// ([size, g1, g2, aberration terms...]).
type FieldRenderer interface {
	RenderAt(star *Star, resolved []float64) (*Image, error)
}

// Interpolator supplies per-position seed parameters for spatially
// varying fits. It must behave as a pure function of position for a
// given fitted state.
type Interpolator interface {
	Interpolate(pos Position) []float64
}

// FieldInterpolator additionally learns its coefficients from a set of
// fitted stars.
type FieldInterpolator interface {
	Interpolator
	Train(positions []Position, params [][]float64) error
}

// StarReader loads a star catalog from a file.
type StarReader interface {
	ReadStars(filename string) ([]*Star, error)
}

// StarWriter persists per-star fit results.
type StarWriter interface {
	WriteStars(filename string, stars []*Star) error
}

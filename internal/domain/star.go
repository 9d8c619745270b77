package domain

// Position is a star location in field (focal-plane) coordinates.
type Position struct {
	U float64
	V float64
}

// GaussianMoments describes a fixed auxiliary profile by its
// second-moment covariance in world coordinates. A Renderer that
// supports convolution folds this into every render of the star.
type GaussianMoments struct {
	Cuu float64
	Cuv float64
	Cvv float64
}

// FitRecord is the immutable result of a fit attached to a Star.
// Params is nil before the first fit. A new record supersedes the old
// one on every fit or reflux call; records are never mutated.
type FitRecord struct {
	// Params is [scale, g1, g2] when the model center is forced to the
	// origin, or [du, dv, scale, g1, g2] otherwise.
	Params []float64
	Flux   float64
	// Center is the fitted centroid offset (du, dv) in world units.
	Center [2]float64
	Chisq  float64
	Dof    int
	// ParamErrors are per-parameter uncertainties when the minimizer
	// provides them, in Params order.
	ParamErrors []float64
	// Alpha and Beta are covariance bookkeeping terms carried through
	// iterative refinement unchanged.
	Alpha []float64
	Beta  []float64
}

func NewFitRecord() *FitRecord {
	return &FitRecord{Flux: 1}
}

// Star is one observational unit: pixel data, an inverse-variance
// weight map of the same shape, a local WCS, a field position, and the
// current fit state. Fitting never mutates a Star in place; operations
// return a new Star with a new FitRecord.
type Star struct {
	Image  *Image
	Weight *Image
	WCS    WCS
	Pos    Position

	// Moments caches the reference adaptive-moment measurement of the
	// data, filled once by the fitter.
	Moments *Moments

	// Aux is an optional fixed profile to convolve with the model on
	// every render (composite optical+atmospheric fits). It never
	// contributes parameters to the fit.
	Aux *GaussianMoments

	// UsedInFit records whether the star survived population-level
	// selection, for audit.
	UsedInFit bool

	Fit *FitRecord
}

// WithFit returns a copy of the star carrying the given fit record.
func (s *Star) WithFit(fit *FitRecord) *Star {
	out := *s
	out.Fit = fit
	return &out
}

// WithMoments returns a copy of the star carrying cached reference
// moments.
func (s *Star) WithMoments(m *Moments) *Star {
	out := *s
	out.Moments = m
	return &out
}

// WithImage returns a copy of the star with a different pixel image,
// sharing the weight map and metadata. Used to score a rendered model
// with the same machinery as the data.
func (s *Star) WithImage(im *Image) *Star {
	out := *s
	out.Image = im
	return &out
}

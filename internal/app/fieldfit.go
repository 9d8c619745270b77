package app

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"

	"starpsf/internal/domain"
	"starpsf/pkg/fitter"
	"starpsf/pkg/moments"
)

// FieldFitter fits the field-wide parameter set (constant atmosphere
// terms plus spatially varying aberrations) to the measured shapes of a
// star population.
type FieldFitter struct {
	renderer domain.FieldRenderer
	measurer *moments.Measurer
	errprop  *moments.ErrorPropagator
	params   *fitter.ParameterSet
	backend  fitter.Backend
	session  *fitter.FitSession
	logger   *zap.Logger

	nFitStars     int
	maxShapes     []float64
	seed          int64
	workers       int
	errorEstimate float64
	shapeWeights  [3]float64
	useGradient   bool
	guessStart    bool
	maxIterations int
}

// NewFieldFitter builds a field fitter from configuration. The moments
// backend only seeds single-star fits and cannot drive the field
// optimization, so it is rejected here.
func NewFieldFitter(renderer domain.FieldRenderer, errprop *moments.ErrorPropagator, cfg *domain.Config, logger *zap.Logger) (*FieldFitter, error) {
	backend, err := fitter.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if backend == fitter.BackendMoments {
		return nil, fmt.Errorf("%w: the moments backend cannot drive a field fit", domain.ErrConfiguration)
	}

	weights := [3]float64{0.5, 1, 1}
	if len(cfg.ShapeWeights) == 3 {
		copy(weights[:], cfg.ShapeWeights)
	} else if len(cfg.ShapeWeights) != 0 {
		return nil, fmt.Errorf("%w: shape_weights needs 3 entries, got %d", domain.ErrConfiguration, len(cfg.ShapeWeights))
	}
	var wsum float64
	for _, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: negative shape weight %g", domain.ErrConfiguration, w)
		}
		wsum += w
	}
	if wsum <= 0 {
		return nil, fmt.Errorf("%w: shape weights sum to zero", domain.ErrConfiguration)
	}
	for i := range weights {
		weights[i] /= wsum
	}

	if n := len(cfg.MaxShapes); n != 0 && n != 3 {
		return nil, fmt.Errorf("%w: max_shapes needs 3 entries, got %d", domain.ErrConfiguration, n)
	}
	for _, m := range cfg.MaxShapes {
		if m <= 0 {
			return nil, fmt.Errorf("%w: non-positive max_shapes entry %g", domain.ErrConfiguration, m)
		}
	}

	errEst := cfg.ErrorEstimate
	if errEst <= 0 {
		errEst = 1
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 1000
	}

	return &FieldFitter{
		renderer:      renderer,
		measurer:      moments.NewMeasurer(),
		errprop:       errprop,
		params:        fitter.NewFieldParameterSet(),
		backend:       backend,
		session:       fitter.NewFitSession(logger),
		logger:        logger,
		nFitStars:     cfg.NFitStars,
		maxShapes:     cfg.MaxShapes,
		seed:          cfg.Seed,
		workers:       workers,
		errorEstimate: errEst,
		shapeWeights:  weights,
		useGradient:   cfg.UseGradient,
		guessStart:    cfg.GuessStart,
		maxIterations: maxIter,
	}, nil
}

// Params exposes the current field parameter set.
func (f *FieldFitter) Params() *fitter.ParameterSet { return f.params }

// Resolve evaluates the field model at a position.
func (f *FieldFitter) Resolve(pos domain.Position) []float64 {
	return f.params.ResolveField(pos)
}

// DisableAtmosphere freezes the constant atmosphere terms at their
// current values so a later fit only moves the aberrations.
func (f *FieldFitter) DisableAtmosphere() {
	f.params.Fix(fitter.Key{Kind: fitter.TermScale})
	f.params.Fix(fitter.Key{Kind: fitter.TermG1})
	f.params.Fix(fitter.Key{Kind: fitter.TermG2})
}

// EnableAtmosphere releases the constant atmosphere terms.
func (f *FieldFitter) EnableAtmosphere() {
	f.params.Release(fitter.Key{Kind: fitter.TermScale})
	f.params.Release(fitter.Key{Kind: fitter.TermG1})
	f.params.Release(fitter.Key{Kind: fitter.TermG2})
}

type starShape struct {
	star  *domain.Star
	shape domain.Shape
	errs  domain.ShapeErrors
	ok    bool
}

// Fit measures the population's shapes and optimizes the field
// parameters against them. Returned stars are copies of the input with
// UsedInFit set on those that survived selection; the input order is
// preserved.
func (f *FieldFitter) Fit(stars []*domain.Star) ([]*domain.Star, error) {
	if len(stars) == 0 {
		return nil, fmt.Errorf("%w: no stars to fit", domain.ErrInvalidCatalog)
	}

	selected := f.subsample(stars)
	shapes := f.measureShapes(selected)

	var used []starShape
	rejected := 0
	for _, s := range shapes {
		if s.ok {
			used = append(used, s)
		} else {
			rejected++
		}
	}
	if f.logger != nil {
		f.logger.Info("shape measurement complete",
			zap.Int("n_selected", len(selected)),
			zap.Int("n_used", len(used)),
			zap.Int("n_rejected", rejected))
	}

	nFree := len(f.params.Free())
	if 3*len(used) <= nFree {
		return nil, fmt.Errorf("%w: %d usable stars cannot constrain %d free parameters", domain.ErrModelFit, len(used), nFree)
	}

	if f.guessStart {
		f.seedFromShapes(used)
	}

	if err := f.optimize(used); err != nil {
		return nil, err
	}

	usedSet := make(map[*domain.Star]bool, len(used))
	for _, s := range used {
		usedSet[s.star] = true
	}
	out := make([]*domain.Star, len(stars))
	for i, st := range stars {
		cp := *st
		cp.UsedInFit = usedSet[st]
		out[i] = &cp
	}
	return out, nil
}

// subsample picks the stars entering the fit. Selection happens before
// any parallel work so a fixed seed gives a fixed subset.
func (f *FieldFitter) subsample(stars []*domain.Star) []*domain.Star {
	n := len(stars)
	limit := n
	if f.nFitStars > 0 && f.nFitStars < limit {
		limit = f.nFitStars
	}
	if limit >= n {
		return stars
	}
	rng := rand.New(rand.NewSource(f.seed))
	perm := rng.Perm(n)[:limit]
	sort.Ints(perm)
	out := make([]*domain.Star, limit)
	for i, idx := range perm {
		out[i] = stars[idx]
	}
	if f.logger != nil {
		f.logger.Info("subsampled stars for field fit",
			zap.Int("n_total", n), zap.Int("n_selected", limit), zap.Int64("seed", f.seed))
	}
	return out
}

// measureShapes runs the moment measurement and error propagation over
// a worker pool. Output order matches input order.
func (f *FieldFitter) measureShapes(stars []*domain.Star) []starShape {
	out := make([]starShape, len(stars))
	jobs := make(chan int, len(stars))
	var wg sync.WaitGroup

	for w := 0; w < f.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = f.measureOne(stars[i])
			}
		}()
	}
	for i := range stars {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

func (f *FieldFitter) measureOne(star *domain.Star) starShape {
	mom := f.measurer.MeasureStar(star)
	if !mom.OK() {
		if f.logger != nil {
			f.logger.Debug("star rejected: moment failure", zap.Int("status", mom.Status))
		}
		return starShape{star: star}
	}
	shape := mom.Shape()
	if f.exceedsMaxShapes(shape) {
		if f.logger != nil {
			f.logger.Debug("star rejected: shape above threshold",
				zap.Float64("e0", shape.E0),
				zap.Float64("e1", shape.E1),
				zap.Float64("e2", shape.E2))
		}
		return starShape{star: star}
	}
	errs, err := f.errprop.Propagate(star.WithMoments(&mom))
	if err != nil || !shape.Finite() || !finiteErrs(errs) {
		if f.logger != nil {
			f.logger.Debug("star rejected: unusable shape or errors", zap.Error(err))
		}
		return starShape{star: star}
	}
	return starShape{star: star, shape: shape, errs: errs, ok: true}
}

// exceedsMaxShapes applies the per-channel |e| cut when thresholds are
// configured.
func (f *FieldFitter) exceedsMaxShapes(s domain.Shape) bool {
	if len(f.maxShapes) != 3 {
		return false
	}
	return math.Abs(s.E0) > f.maxShapes[0] ||
		math.Abs(s.E1) > f.maxShapes[1] ||
		math.Abs(s.E2) > f.maxShapes[2]
}

func finiteErrs(e domain.ShapeErrors) bool {
	for _, v := range []float64{e.E0, e.E1, e.E2} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return true
}

// seedFromShapes starts the constant atmosphere terms from the median
// measured shape of the population.
func (f *FieldFitter) seedFromShapes(used []starShape) {
	n := len(used)
	e0 := make([]float64, n)
	e1 := make([]float64, n)
	e2 := make([]float64, n)
	for i, s := range used {
		e0[i] = s.shape.E0
		e1[i] = s.shape.E1
		e2[i] = s.shape.E2
	}
	med := domain.Shape{E0: median(e0), E1: median(e1), E2: median(e2)}
	size, shear := med.SizeShear()

	sizeKey := fitter.Key{Kind: fitter.TermScale}
	g1Key := fitter.Key{Kind: fitter.TermG1}
	g2Key := fitter.Key{Kind: fitter.TermG2}
	f.params.SetValue(sizeKey, f.params.Get(sizeKey).Clamp(size))
	f.params.SetValue(g1Key, f.params.Get(g1Key).Clamp(shear.G1))
	f.params.SetValue(g2Key, f.params.Get(g2Key).Clamp(shear.G2))
	if f.logger != nil {
		f.logger.Info("seeded atmosphere from median shapes",
			zap.Float64("size", size),
			zap.Float64("g1", shear.G1),
			zap.Float64("g2", shear.G2))
	}
}

func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// starTerm builds one star's chi-square contribution over the
// (e0, e1, e2) channels, with normalized channel weights and the
// configured error inflation.
func (f *FieldFitter) starTerm(ss starShape) fitter.StarTerm {
	st := ss.star
	data := ss.shape
	errs := ss.errs
	w := f.shapeWeights
	est := f.errorEstimate
	return fitter.StarTerm{
		Pos: st.Pos,
		Chi2: func(resolved []float64) (float64, error) {
			model, err := f.modelShape(st, resolved)
			if err != nil {
				return 0, err
			}
			d0 := (data.E0 - model.E0) / (est * errs.E0)
			d1 := (data.E1 - model.E1) / (est * errs.E1)
			d2 := (data.E2 - model.E2) / (est * errs.E2)
			return w[0]*d0*d0 + w[1]*d1*d1 + w[2]*d2*d2, nil
		},
	}
}

// modelShape renders the field model on a star's stamp and measures it
// with the same machinery as the data.
func (f *FieldFitter) modelShape(star *domain.Star, resolved []float64) (domain.Shape, error) {
	im, err := f.renderer.RenderAt(star, resolved)
	if err != nil {
		return domain.Shape{}, err
	}
	mm := f.measurer.Measure(im, star.Weight, star.WCS)
	if !mm.OK() {
		return domain.Shape{}, fmt.Errorf("%w: model moment status %d", domain.ErrModelFit, mm.Status)
	}
	return mm.Shape(), nil
}

func (f *FieldFitter) optimize(used []starShape) error {
	terms := make([]fitter.StarTerm, len(used))
	for i, s := range used {
		terms[i] = f.starTerm(s)
	}

	objective := func(vals []float64) (float64, error) {
		work := f.params.Clone()
		if err := work.SetFreeValues(vals); err != nil {
			return 0, err
		}
		var total float64
		for _, t := range terms {
			v, err := t.Chi2(work.ResolveField(t.Pos))
			if err != nil {
				return 0, err
			}
			total += v
		}
		f.session.Record(total, vals)
		return total, nil
	}

	switch f.backend {
	case fitter.BackendLeastSquares:
		return f.optimizeLeastSquares(used)
	case fitter.BackendGradient, fitter.BackendNelderMead:
		minimizer, err := fitter.NewScalarMinimizer(f.backend, f.logger)
		if err != nil {
			return err
		}
		minimizer.MaxIter = f.maxIterations
		var grad fitter.Gradient
		if f.backend == fitter.BackendGradient && f.useGradient {
			grad = f.gradient(terms)
		}
		_, err = minimizer.Minimize(f.params, objective, grad)
		return err
	case fitter.BackendSampling:
		sampler := fitter.NewSampler(uint64(f.seed), f.logger)
		sampler.NSamples = f.maxIterations * 10
		_, err := sampler.Sample(f.params, objective)
		return err
	}
	return fmt.Errorf("%w: backend %s not supported for field fits", domain.ErrConfiguration, f.backend)
}

// optimizeLeastSquares exposes the per-star channel residuals to the
// damped least-squares solver instead of collapsing them to a scalar.
func (f *FieldFitter) optimizeLeastSquares(used []starShape) error {
	w := f.shapeWeights
	est := f.errorEstimate
	solver := fitter.NewLeastSquares(f.logger)
	solver.MaxIter = f.maxIterations

	residuals := func(vals []float64) ([]float64, error) {
		work := f.params.Clone()
		if err := work.SetFreeValues(vals); err != nil {
			return nil, err
		}
		out := make([]float64, 0, 3*len(used))
		var total float64
		for _, s := range used {
			model, err := f.modelShape(s.star, work.ResolveField(s.star.Pos))
			if err != nil {
				return nil, err
			}
			r0 := math.Sqrt(w[0]) * (s.shape.E0 - model.E0) / (est * s.errs.E0)
			r1 := math.Sqrt(w[1]) * (s.shape.E1 - model.E1) / (est * s.errs.E1)
			r2 := math.Sqrt(w[2]) * (s.shape.E2 - model.E2) / (est * s.errs.E2)
			out = append(out, r0, r1, r2)
			total += r0*r0 + r1*r1 + r2*r2
		}
		f.session.Record(total, vals)
		return out, nil
	}
	_, err := solver.Fit(f.params, residuals)
	return err
}

// gradient adapts the finite-difference field gradient to the scalar
// minimizer's flat layout.
func (f *FieldFitter) gradient(terms []fitter.StarTerm) fitter.Gradient {
	fd := &fitter.FDGradient{}
	return func(grad, vals []float64) error {
		work := f.params.Clone()
		if err := work.SetFreeValues(vals); err != nil {
			return err
		}
		gm, err := fd.Grad(work, terms)
		if err != nil {
			return err
		}
		for j, k := range work.Free() {
			grad[j] = gm[k]
		}
		return nil
	}
}

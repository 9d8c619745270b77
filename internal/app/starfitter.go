// Package app wires the measurement, rendering and optimization layers
// into the fitting services exposed to the command line.
package app

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"starpsf/internal/domain"
	"starpsf/pkg/fitter"
	"starpsf/pkg/moments"
)

// Shear bounds and positivity floors for the single-star fit.
const (
	starShearLimit = 0.7
	starFitNParams = 6
)

// StarFitter fits a parametric profile to one star's pixels. It offers
// a fast moment-matching path and a full damped least-squares path, and
// the flux-only refinement used between interpolation passes.
type StarFitter struct {
	renderer domain.Renderer
	measurer *moments.Measurer
	solver   *fitter.LeastSquares
	logger   *zap.Logger
}

func NewStarFitter(renderer domain.Renderer, logger *zap.Logger) *StarFitter {
	return &StarFitter{
		renderer: renderer,
		measurer: moments.NewMeasurer(),
		solver:   fitter.NewLeastSquares(logger),
		logger:   logger,
	}
}

// EnsureMoments returns a star carrying its reference adaptive-moment
// measurement, measuring it on first use.
func (f *StarFitter) EnsureMoments(star *domain.Star) (*domain.Star, error) {
	if star.Moments != nil {
		return star, nil
	}
	m := f.measurer.MeasureStar(star)
	if !m.OK() {
		return nil, fmt.Errorf("%w: data moment status %d", domain.ErrMomentFailure, m.Status)
	}
	return star.WithMoments(&m), nil
}

// Initialize seeds a star's fit record with the fiducial profile, runs
// one fast fit, and refines the flux with the centroid held.
func (f *StarFitter) Initialize(star *domain.Star) (*domain.Star, error) {
	fit := domain.NewFitRecord()
	if f.renderer.ForceCenter() {
		fit.Params = []float64{1, 0, 0}
	} else {
		fit.Params = []float64{0, 0, 1, 0, 0}
	}
	star, err := f.MomentFit(star.WithFit(fit))
	if err != nil {
		return nil, err
	}
	return f.Reflux(star, false)
}

// Fit fits the profile to the star's pixels. With fast true a single
// moment-matching pass runs instead of the least-squares solve.
func (f *StarFitter) Fit(star *domain.Star, fast bool) (*domain.Star, error) {
	if fast {
		return f.MomentFit(star)
	}
	return f.leastSquaresFit(star, false)
}

// MomentFit updates the fit record so the model's adaptive moments
// match the data's: flux and size scale by the measured ratios, the
// centroid shifts by the measured offset, and the shear composes with
// the measured difference.
func (f *StarFitter) MomentFit(star *domain.Star) (*domain.Star, error) {
	star, err := f.EnsureMoments(star)
	if err != nil {
		return nil, err
	}
	fit := star.Fit
	if fit == nil || fit.Params == nil {
		return nil, fmt.Errorf("%w: star has no seed parameters", domain.ErrModelFit)
	}

	model, err := f.renderer.Render(fit.Params, fit.Flux, fit.Center, star)
	if err != nil {
		return nil, err
	}
	mm := f.measurer.Measure(model, star.Weight, star.WCS)
	if !mm.OK() {
		return nil, fmt.Errorf("%w: model moment status %d", domain.ErrModelFit, mm.Status)
	}
	dm := *star.Moments

	du, dv, scale, g1, g2 := unpackRecord(fit, f.renderer.ForceCenter())

	newFit := &domain.FitRecord{
		Flux:  fit.Flux * dm.Flux / mm.Flux,
		Alpha: fit.Alpha,
		Beta:  fit.Beta,
	}
	du += dm.U0 - mm.U0
	dv += dm.V0 - mm.V0
	scale *= dm.Size / mm.Size
	delta := dm.Shear().Sub(mm.Shear())
	sh := domain.Shear{G1: g1, G2: g2}.Add(delta)

	newFit.Params = packParams(f.renderer.ForceCenter(), du, dv, scale, sh.G1, sh.G2)
	newFit.Center = [2]float64{du, dv}

	out := star.WithFit(newFit)
	if err := f.scoreFit(out, starFitNParams); err != nil {
		return nil, err
	}
	if f.logger != nil {
		f.logger.Debug("moment fit",
			zap.Float64("flux", newFit.Flux),
			zap.Float64("scale", scale),
			zap.Float64("chisq", newFit.Chisq))
	}
	return out, nil
}

// Reflux refreshes the flux (and optionally centroid) of a star
// against its pixels with the shape held fixed. With fitCenter false
// the flux update is the closed-form weighted projection of the data
// onto the model.
func (f *StarFitter) Reflux(star *domain.Star, fitCenter bool) (*domain.Star, error) {
	fit := star.Fit
	if fit == nil || fit.Params == nil {
		return nil, fmt.Errorf("%w: star has no fitted parameters", domain.ErrModelFit)
	}
	if fitCenter {
		return f.leastSquaresFit(star, true)
	}

	model, err := f.renderer.Render(fit.Params, fit.Flux, fit.Center, star)
	if err != nil {
		return nil, err
	}
	var num, den float64
	for i, m := range model.Pix {
		w := star.Weight.Pix[i]
		if w <= 0 {
			continue
		}
		num += w * star.Image.Pix[i] * m
		den += w * m * m
	}
	if den <= 0 {
		return nil, fmt.Errorf("%w: model has no support under the weight map", domain.ErrModelFit)
	}
	ratio := num / den

	newFit := &domain.FitRecord{
		Params:      append([]float64(nil), fit.Params...),
		Flux:        fit.Flux * ratio,
		Center:      fit.Center,
		ParamErrors: fit.ParamErrors,
		Alpha:       fit.Alpha,
		Beta:        fit.Beta,
	}
	out := star.WithFit(newFit)
	if err := f.scoreFit(out, 1); err != nil {
		return nil, err
	}
	return out, nil
}

// Draw renders the star's current model.
func (f *StarFitter) Draw(star *domain.Star) (*domain.Image, error) {
	if star.Fit == nil || star.Fit.Params == nil {
		return nil, fmt.Errorf("%w: star has no fitted parameters", domain.ErrModelFit)
	}
	return f.renderer.Render(star.Fit.Params, star.Fit.Flux, star.Fit.Center, star)
}

// leastSquaresFit runs the damped least-squares solve over
// [flux, du, dv, scale, g1, g2]. With shapeFixed true only the first
// three vary, which is the center-free reflux.
func (f *StarFitter) leastSquaresFit(star *domain.Star, shapeFixed bool) (*domain.Star, error) {
	star, err := f.EnsureMoments(star)
	if err != nil {
		return nil, err
	}
	fit := star.Fit
	if fit == nil || fit.Params == nil {
		seeded, err := f.Initialize(star)
		if err != nil {
			return nil, err
		}
		star, fit = seeded, seeded.Fit
	}
	du, dv, scale, g1, g2 := unpackRecord(fit, f.renderer.ForceCenter())

	set := fitter.NewParameterSet()
	set.Add(fitter.Key{Kind: fitter.TermFlux}, fitter.Param{Value: fit.Flux, Min: 1e-12, Max: math.Inf(1)})
	set.Add(fitter.Key{Kind: fitter.TermCenterU}, fitter.Param{Value: du})
	set.Add(fitter.Key{Kind: fitter.TermCenterV}, fitter.Param{Value: dv})
	set.Add(fitter.Key{Kind: fitter.TermScale}, fitter.Param{Value: scale, Min: 1e-12, Max: math.Inf(1), Fixed: shapeFixed})
	set.Add(fitter.Key{Kind: fitter.TermG1}, fitter.Param{Value: g1, Min: -starShearLimit, Max: starShearLimit, Fixed: shapeFixed})
	set.Add(fitter.Key{Kind: fitter.TermG2}, fitter.Param{Value: g2, Min: -starShearLimit, Max: starShearLimit, Fixed: shapeFixed})

	force := f.renderer.ForceCenter()
	residuals := func(vals []float64) ([]float64, error) {
		flux, cdu, cdv := vals[0], vals[1], vals[2]
		s, sg1, sg2 := scale, g1, g2
		if !shapeFixed {
			s, sg1, sg2 = vals[3], vals[4], vals[5]
		}
		model, err := f.renderer.Render(packParams(force, cdu, cdv, s, sg1, sg2), flux, [2]float64{cdu, cdv}, star)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(model.Pix))
		for i := range model.Pix {
			w := star.Weight.Pix[i]
			if w > 0 {
				out[i] = (star.Image.Pix[i] - model.Pix[i]) * math.Sqrt(w)
			}
		}
		return out, nil
	}

	result, err := f.solver.Fit(set, residuals)
	if err != nil {
		return nil, err
	}

	flux := set.Get(fitter.Key{Kind: fitter.TermFlux}).Value
	du = set.Get(fitter.Key{Kind: fitter.TermCenterU}).Value
	dv = set.Get(fitter.Key{Kind: fitter.TermCenterV}).Value
	if !shapeFixed {
		scale = set.Get(fitter.Key{Kind: fitter.TermScale}).Value
		g1 = set.Get(fitter.Key{Kind: fitter.TermG1}).Value
		g2 = set.Get(fitter.Key{Kind: fitter.TermG2}).Value
	}

	newFit := &domain.FitRecord{
		Params:      packParams(force, du, dv, scale, g1, g2),
		Flux:        flux,
		Center:      [2]float64{du, dv},
		ParamErrors: result.Errors,
		Alpha:       fit.Alpha,
		Beta:        fit.Beta,
	}
	out := star.WithFit(newFit)
	nFit := starFitNParams
	if shapeFixed {
		nFit = 3
	}
	if err := f.scoreFit(out, nFit); err != nil {
		return nil, err
	}
	if f.logger != nil {
		f.logger.Debug("least-squares star fit",
			zap.Float64("flux", flux),
			zap.Float64("chisq", out.Fit.Chisq),
			zap.Int("dof", out.Fit.Dof),
			zap.Int("n_eval", result.NEval))
	}
	return out, nil
}

// scoreFit recomputes the fit record's chi-square and degrees of
// freedom from a fresh render, so the stored quality always reflects
// the stored parameters.
func (f *StarFitter) scoreFit(star *domain.Star, nFit int) error {
	model, err := f.renderer.Render(star.Fit.Params, star.Fit.Flux, star.Fit.Center, star)
	if err != nil {
		return err
	}
	var chisq float64
	nnz := 0
	for i, m := range model.Pix {
		w := star.Weight.Pix[i]
		if w <= 0 {
			continue
		}
		nnz++
		d := star.Image.Pix[i] - m
		chisq += w * d * d
	}
	star.Fit.Chisq = chisq
	star.Fit.Dof = nnz - nFit
	return nil
}

func unpackRecord(fit *domain.FitRecord, forceCenter bool) (du, dv, scale, g1, g2 float64) {
	if forceCenter {
		return fit.Center[0], fit.Center[1], fit.Params[0], fit.Params[1], fit.Params[2]
	}
	return fit.Params[0], fit.Params[1], fit.Params[2], fit.Params[3], fit.Params[4]
}

func packParams(forceCenter bool, du, dv, scale, g1, g2 float64) []float64 {
	if forceCenter {
		return []float64{scale, g1, g2}
	}
	return []float64{du, dv, scale, g1, g2}
}

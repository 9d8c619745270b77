package app

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"starpsf/internal/domain"
)

// Trainer alternates per-star profile fits with interpolator training
// until the total chi-square stabilizes. After each training pass every
// star is reseeded from the interpolated surface and its flux and
// centroid are refreshed against the pixels.
type Trainer struct {
	fitter  *StarFitter
	interp  domain.FieldInterpolator
	maxIter int
	fast    bool
	logger  *zap.Logger
}

func NewTrainer(f *StarFitter, interp domain.FieldInterpolator, cfg *domain.Config, logger *zap.Logger) *Trainer {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 40
	}
	return &Trainer{
		fitter:  f,
		interp:  interp,
		maxIter: maxIter,
		fast:    cfg.FastFit,
		logger:  logger,
	}
}

// Train runs the alternating fit. It returns the refined stars, in
// input order, with the trained interpolator left in place for drawing
// the model anywhere in the field.
func (t *Trainer) Train(stars []*domain.Star) ([]*domain.Star, error) {
	if len(stars) == 0 {
		return nil, fmt.Errorf("%w: no stars to train on", domain.ErrInvalidCatalog)
	}

	current := make([]*domain.Star, len(stars))
	for i, st := range stars {
		seeded, err := t.fitter.Initialize(st)
		if err != nil {
			return nil, fmt.Errorf("star %d: %w", i, err)
		}
		current[i] = seeded
	}

	prevChisq := math.Inf(1)
	for iter := 0; iter < t.maxIter; iter++ {
		for i, st := range current {
			fitted, err := t.fitter.Fit(st, t.fast)
			if err != nil {
				return nil, fmt.Errorf("star %d: %w", i, err)
			}
			current[i] = fitted
		}

		positions := make([]domain.Position, len(current))
		params := make([][]float64, len(current))
		for i, st := range current {
			positions[i] = st.Pos
			params[i] = st.Fit.Params
		}
		if err := t.interp.Train(positions, params); err != nil {
			return nil, err
		}

		var chisq float64
		dof := 0
		for i, st := range current {
			seeded := st.Fit.Params
			if p := t.interp.Interpolate(st.Pos); p != nil {
				seeded = p
			}
			fit := &domain.FitRecord{
				Params: seeded,
				Flux:   st.Fit.Flux,
				Center: st.Fit.Center,
				Alpha:  st.Fit.Alpha,
				Beta:   st.Fit.Beta,
			}
			refreshed, err := t.fitter.Reflux(st.WithFit(fit), true)
			if err != nil {
				return nil, fmt.Errorf("star %d: %w", i, err)
			}
			current[i] = refreshed
			chisq += refreshed.Fit.Chisq
			dof += refreshed.Fit.Dof
		}

		delta := math.Abs(prevChisq - chisq)
		if t.logger != nil {
			t.logger.Info("training iteration",
				zap.Int("iteration", iter+1),
				zap.Float64("chisq", chisq),
				zap.Int("dof", dof),
				zap.Float64("delta", delta))
		}
		if delta < float64(dof)/10 {
			return current, nil
		}
		prevChisq = chisq
	}
	if t.logger != nil {
		t.logger.Warn("training stopped at iteration limit", zap.Int("max_iterations", t.maxIter))
	}
	return current, nil
}

// DrawAt renders the trained model at an arbitrary field position on a
// template star's stamp geometry.
func (t *Trainer) DrawAt(template *domain.Star, pos domain.Position) (*domain.Image, error) {
	params := t.interp.Interpolate(pos)
	if params == nil {
		return nil, fmt.Errorf("%w: interpolator has not been trained", domain.ErrModelFit)
	}
	st := *template
	st.Pos = pos
	st.Fit = &domain.FitRecord{Params: params, Flux: 1}
	return t.fitter.Draw(&st)
}

package fitter

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"starpsf/internal/domain"
)

// Objective evaluates the scalar cost at a free-parameter vector laid
// out in set order.
type Objective func(values []float64) (float64, error)

// Gradient fills grad with the cost derivatives at values.
type Gradient func(grad, values []float64) error

// ScalarMinimizer drives gonum's scalar optimizers over a ParameterSet.
// Box constraints are enforced with a quadratic penalty added to the
// cost outside the feasible region.
type ScalarMinimizer struct {
	Method        Backend
	MaxIter       int
	PenaltyWeight float64
	logger        *zap.Logger
}

func NewScalarMinimizer(method Backend, logger *zap.Logger) (*ScalarMinimizer, error) {
	switch method {
	case BackendGradient, BackendNelderMead:
	default:
		return nil, fmt.Errorf("%w: scalar minimizer cannot run backend %s", domain.ErrConfiguration, method)
	}
	return &ScalarMinimizer{
		Method:        method,
		MaxIter:       1000,
		PenaltyWeight: 1e6,
		logger:        logger,
	}, nil
}

func (s *ScalarMinimizer) penalty(free []Key, set *ParameterSet, x []float64) float64 {
	var pen float64
	for j, k := range free {
		p := set.Get(k)
		if !p.bounded() {
			continue
		}
		if x[j] < p.Min {
			d := p.Min - x[j]
			pen += s.PenaltyWeight * d * d
		} else if x[j] > p.Max {
			d := x[j] - p.Max
			pen += s.PenaltyWeight * d * d
		}
	}
	return pen
}

func (s *ScalarMinimizer) penaltyGrad(free []Key, set *ParameterSet, grad, x []float64) {
	for j, k := range free {
		p := set.Get(k)
		if !p.bounded() {
			continue
		}
		if x[j] < p.Min {
			grad[j] += 2 * s.PenaltyWeight * (x[j] - p.Min)
		} else if x[j] > p.Max {
			grad[j] += 2 * s.PenaltyWeight * (x[j] - p.Max)
		}
	}
}

// Minimize runs the configured optimizer from the set's current free
// values and writes the minimizer back into the set. An optional
// analytic gradient enables the gradient backend's full step quality;
// with grad nil the gradient backend differentiates the penalized cost
// by finite differences.
func (s *ScalarMinimizer) Minimize(set *ParameterSet, fn Objective, grad Gradient) (*Result, error) {
	free := set.Free()
	if len(free) == 0 {
		return nil, fmt.Errorf("%w: no free parameters", domain.ErrModelFit)
	}
	x0 := set.FreeValues()

	var evalErr error
	cost := func(x []float64) float64 {
		v, err := fn(x)
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return math.Inf(1)
		}
		return v + s.penalty(free, set, x)
	}
	problem := optimize.Problem{Func: cost}
	switch {
	case grad != nil:
		problem.Grad = func(g, x []float64) {
			if err := grad(g, x); err != nil {
				if evalErr == nil {
					evalErr = err
				}
				for j := range g {
					g[j] = 0
				}
				return
			}
			s.penaltyGrad(free, set, g, x)
		}
	case s.Method == BackendGradient:
		// L-BFGS needs a gradient. Differentiate the penalized cost so
		// the box constraints are felt by the line search too.
		problem.Grad = func(g, x []float64) {
			fd.Gradient(g, cost, x, nil)
		}
	}

	var method optimize.Method
	switch s.Method {
	case BackendGradient:
		method = &optimize.LBFGS{}
	default:
		method = &optimize.NelderMead{}
	}
	settings := &optimize.Settings{MajorIterations: s.MaxIter}

	opt, err := optimize.Minimize(problem, x0, settings, method)
	if evalErr != nil {
		return nil, evalErr
	}
	if opt == nil {
		return nil, fmt.Errorf("%w: %s backend: %v", domain.ErrFitConvergence, s.Method, err)
	}

	res := &Result{}
	{
		res.Values = make([]float64, len(free))
		for j, k := range free {
			res.Values[j] = set.Get(k).Clamp(opt.X[j])
		}
		res.NEval = opt.FuncEvaluations
		res.Success = err == nil && successfulStatus(opt.Status)
		// Recompute the cost at the clamped point so the reported
		// chi-square excludes any residual penalty.
		if v, ferr := fn(res.Values); ferr == nil {
			res.Chisq = v
		} else {
			res.Chisq = opt.F
		}
	}
	if err != nil && !res.Success {
		return res, fmt.Errorf("%w: %s backend: %v", domain.ErrFitConvergence, s.Method, err)
	}
	if !res.Success {
		return res, fmt.Errorf("%w: %s backend stopped with status %v", domain.ErrFitConvergence, s.Method, opt.Status)
	}

	if err := set.SetFreeValues(res.Values); err != nil {
		return res, err
	}
	if s.logger != nil {
		s.logger.Debug("scalar minimization finished",
			zap.String("method", s.Method.String()),
			zap.Float64("chisq", res.Chisq),
			zap.Int("n_eval", res.NEval))
	}
	return res, nil
}

func successfulStatus(st optimize.Status) bool {
	switch st {
	case optimize.GradientThreshold,
		optimize.FunctionConvergence,
		optimize.StepConvergence,
		optimize.FunctionThreshold:
		return true
	}
	return false
}

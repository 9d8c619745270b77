package fitter

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"starpsf/internal/domain"
)

// Residualer evaluates the weighted residual vector at a free-parameter
// vector laid out in set order. The vector length must stay constant
// across calls.
type Residualer func(values []float64) ([]float64, error)

// Result reports the outcome of a parametric fit.
type Result struct {
	Values  []float64
	Errors  []float64
	Chisq   float64
	Dof     int
	Success bool
	NEval   int
}

// LeastSquares is a damped least-squares (Levenberg-Marquardt) solver
// with box constraints and a forward-difference Jacobian. Parameter
// bounds and step sizes come from the ParameterSet.
type LeastSquares struct {
	MaxIter   int
	Tolerance float64
	logger    *zap.Logger
}

func NewLeastSquares(logger *zap.Logger) *LeastSquares {
	return &LeastSquares{
		MaxIter:   200,
		Tolerance: 1e-10,
		logger:    logger,
	}
}

const (
	initialDamping = 1e-3
	dampingFactor  = 2.0
	maxDamping     = 1e10
)

func chisq(r []float64) float64 {
	var s float64
	for _, v := range r {
		s += v * v
	}
	return s
}

func stepFor(p Param, v float64) float64 {
	if p.Step > 0 {
		return p.Step
	}
	return 1e-6 * math.Max(1, math.Abs(v))
}

// Fit minimizes the residual sum of squares over the set's free
// parameters, starting from their current values. On success the set is
// updated in place with the fitted values and one-sigma errors. A
// non-converged fit returns the best state found wrapped in
// ErrFitConvergence.
func (l *LeastSquares) Fit(set *ParameterSet, residuals Residualer) (*Result, error) {
	free := set.Free()
	n := len(free)
	if n == 0 {
		return nil, fmt.Errorf("%w: no free parameters", domain.ErrModelFit)
	}
	x := set.FreeValues()

	res := &Result{}
	r, err := residuals(x)
	if err != nil {
		return nil, err
	}
	res.NEval++
	m := len(r)
	if m <= n {
		return nil, fmt.Errorf("%w: %d residuals cannot constrain %d parameters", domain.ErrModelFit, m, n)
	}
	chi2 := chisq(r)

	lambda := initialDamping
	jac := mat.NewDense(m, n, nil)
	var ata, lhs, rhs, delta mat.Dense

	converged := false
	for iter := 0; iter < l.MaxIter; iter++ {
		// Forward-difference Jacobian of the residual vector.
		for j := 0; j < n; j++ {
			h := stepFor(set.Get(free[j]), x[j])
			xp := append([]float64(nil), x...)
			xp[j] += h
			rp, err := residuals(xp)
			if err != nil {
				return res, err
			}
			res.NEval++
			for i := 0; i < m; i++ {
				jac.Set(i, j, (rp[i]-r[i])/h)
			}
		}

		ata.Mul(jac.T(), jac)
		rv := mat.NewVecDense(m, r)
		rhs.Mul(jac.T(), rv)
		rhs.Scale(-1, &rhs)

		accepted := false
		for lambda <= maxDamping {
			lhs.CloneFrom(&ata)
			for j := 0; j < n; j++ {
				d := ata.At(j, j)
				if d == 0 {
					d = 1
				}
				lhs.Set(j, j, d*(1+lambda))
			}
			if err := delta.Solve(&lhs, &rhs); err != nil {
				lambda *= dampingFactor
				continue
			}

			xt := make([]float64, n)
			for j := 0; j < n; j++ {
				xt[j] = set.Get(free[j]).Clamp(x[j] + delta.At(j, 0))
			}
			rt, err := residuals(xt)
			if err != nil {
				lambda *= dampingFactor
				continue
			}
			res.NEval++
			chi2t := chisq(rt)
			if chi2t < chi2 {
				improvement := chi2 - chi2t
				x, r, chi2 = xt, rt, chi2t
				lambda /= dampingFactor
				accepted = true
				if improvement < l.Tolerance*(chi2+1e-300) {
					converged = true
				}
				break
			}
			lambda *= dampingFactor
		}
		if !accepted {
			// Damping exhausted without improvement: the current point
			// is as good as this solver will get.
			converged = true
		}
		if converged {
			break
		}
	}

	res.Values = x
	res.Chisq = chi2
	res.Dof = m - n
	res.Success = converged
	res.Errors = l.parameterErrors(&ata, chi2, m-n, n)

	if err := set.SetFreeValues(x); err != nil {
		return res, err
	}
	for j, k := range free {
		set.SetErr(k, res.Errors[j])
	}

	if l.logger != nil {
		l.logger.Debug("least-squares fit finished",
			zap.Float64("chisq", chi2),
			zap.Int("dof", res.Dof),
			zap.Int("n_eval", res.NEval),
			zap.Bool("converged", converged))
	}
	if !converged {
		return res, fmt.Errorf("%w: damped least squares did not converge in %d iterations", domain.ErrFitConvergence, l.MaxIter)
	}
	return res, nil
}

// parameterErrors scales the inverse normal matrix by the reduced
// chi-square. A singular normal matrix yields NaN errors rather than a
// failed fit.
func (l *LeastSquares) parameterErrors(ata *mat.Dense, chi2 float64, dof, n int) []float64 {
	errs := make([]float64, n)
	var inv mat.Dense
	if err := inv.Inverse(ata); err != nil || dof <= 0 {
		for j := range errs {
			errs[j] = math.NaN()
		}
		return errs
	}
	scale := chi2 / float64(dof)
	for j := 0; j < n; j++ {
		v := inv.At(j, j) * scale
		if v > 0 {
			errs[j] = math.Sqrt(v)
		} else {
			errs[j] = math.NaN()
		}
	}
	return errs
}

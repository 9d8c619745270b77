package fitter

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"starpsf/internal/domain"
)

// Sampler explores the chi-square surface with a random-walk
// Metropolis chain. The point estimate is the per-parameter posterior
// median and the reported error is half the 16-84 percentile spread.
type Sampler struct {
	NSamples int
	BurnFrac float64
	Seed     uint64
	logger   *zap.Logger
}

func NewSampler(seed uint64, logger *zap.Logger) *Sampler {
	return &Sampler{
		NSamples: 4000,
		BurnFrac: 0.2,
		Seed:     seed,
		logger:   logger,
	}
}

func proposalSigma(p Param) float64 {
	if p.Err > 0 {
		return p.Err
	}
	if p.Step > 0 {
		return 10 * p.Step
	}
	return 1e-3
}

// Sample runs the chain from the set's current free values. The
// objective is interpreted as a chi-square, so the log probability is
// -chisq/2 and any out-of-bounds proposal has zero probability.
func (s *Sampler) Sample(set *ParameterSet, fn Objective) (*Result, error) {
	free := set.Free()
	n := len(free)
	if n == 0 {
		return nil, fmt.Errorf("%w: no free parameters", domain.ErrModelFit)
	}
	if s.NSamples < 10 {
		return nil, fmt.Errorf("%w: sampler needs at least 10 steps, got %d", domain.ErrConfiguration, s.NSamples)
	}

	rng := rand.New(rand.NewSource(s.Seed))
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}

	sigma := make([]float64, n)
	for j, k := range free {
		sigma[j] = proposalSigma(set.Get(k))
	}

	x := set.FreeValues()
	cur, err := fn(x)
	if err != nil {
		return nil, err
	}
	lnp := -cur / 2

	res := &Result{NEval: 1}
	chain := make([][]float64, 0, s.NSamples)
	accepted := 0
	for step := 0; step < s.NSamples; step++ {
		xp := make([]float64, n)
		inBounds := true
		for j := range x {
			xp[j] = x[j] + sigma[j]*normal.Rand()
			if !set.Get(free[j]).InBounds(xp[j]) {
				inBounds = false
			}
		}
		if inBounds {
			v, err := fn(xp)
			if err != nil {
				return res, err
			}
			res.NEval++
			lnpNew := -v / 2
			if lnpNew >= lnp || math.Log(rng.Float64()) < lnpNew-lnp {
				x, lnp = xp, lnpNew
				accepted++
			}
		}
		chain = append(chain, append([]float64(nil), x...))
	}

	burn := int(s.BurnFrac * float64(len(chain)))
	kept := chain[burn:]
	values := make([]float64, n)
	errs := make([]float64, n)
	col := make([]float64, len(kept))
	for j := 0; j < n; j++ {
		for i, sample := range kept {
			col[i] = sample[j]
		}
		sort.Float64s(col)
		values[j] = stat.Quantile(0.5, stat.Empirical, col, nil)
		lo := stat.Quantile(0.16, stat.Empirical, col, nil)
		hi := stat.Quantile(0.84, stat.Empirical, col, nil)
		errs[j] = (hi - lo) / 2
	}

	chi2, err := fn(values)
	if err != nil {
		return res, err
	}
	res.NEval++
	res.Values = values
	res.Errors = errs
	res.Chisq = chi2
	res.Success = accepted > 0

	if !res.Success {
		return res, fmt.Errorf("%w: sampler accepted no proposals in %d steps", domain.ErrFitConvergence, s.NSamples)
	}
	if err := set.SetFreeValues(values); err != nil {
		return res, err
	}
	for j, k := range free {
		set.SetErr(k, errs[j])
	}
	if s.logger != nil {
		s.logger.Debug("sampling finished",
			zap.Int("n_samples", s.NSamples),
			zap.Float64("acceptance", float64(accepted)/float64(s.NSamples)),
			zap.Float64("chisq", chi2))
	}
	return res, nil
}

package fitter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starpsf/internal/domain"
)

func lineSet(a, b float64) *ParameterSet {
	s := NewParameterSet()
	s.Add(Key{Kind: TermScale}, Param{Value: a})
	s.Add(Key{Kind: TermG1}, Param{Value: b})
	return s
}

func lineData(a, b float64, jitter bool) []float64 {
	out := make([]float64, 10)
	for i := range out {
		out[i] = a + b*float64(i)
		if jitter {
			// Deterministic perturbation so the residual floor is
			// nonzero and parameter errors come out finite.
			if i%2 == 0 {
				out[i] += 0.01
			} else {
				out[i] -= 0.01
			}
		}
	}
	return out
}

func lineResiduals(data []float64) Residualer {
	return func(vals []float64) ([]float64, error) {
		r := make([]float64, len(data))
		for i := range data {
			r[i] = data[i] - (vals[0] + vals[1]*float64(i))
		}
		return r, nil
	}
}

func TestLeastSquaresRecoversLine(t *testing.T) {
	data := lineData(2, -1, true)
	set := lineSet(0, 0)

	res, err := NewLeastSquares(nil).Fit(set, lineResiduals(data))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.InDelta(t, 2, set.Get(Key{Kind: TermScale}).Value, 5e-3)
	assert.InDelta(t, -1, set.Get(Key{Kind: TermG1}).Value, 5e-3)
	assert.Equal(t, 8, res.Dof)

	// The jitter floor: chisq = 10 * 0.01^2 at the optimum.
	assert.InDelta(t, 10*1e-4, res.Chisq, 2e-4)

	for _, e := range res.Errors {
		assert.False(t, math.IsNaN(e))
		assert.Greater(t, e, 0.0)
	}
	assert.Greater(t, set.Get(Key{Kind: TermScale}).Err, 0.0)
}

func TestLeastSquaresHonorsBounds(t *testing.T) {
	data := lineData(2, -1, false)
	set := NewParameterSet()
	set.Add(Key{Kind: TermScale}, Param{Value: 0})
	set.Add(Key{Kind: TermG1}, Param{Value: 0, Min: -0.5, Max: 0.5})

	res, err := NewLeastSquares(nil).Fit(set, lineResiduals(data))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.InDelta(t, -0.5, set.Get(Key{Kind: TermG1}).Value, 1e-9)
}

func TestLeastSquaresRespectsFixed(t *testing.T) {
	data := lineData(2, -1, false)
	set := lineSet(0, -1)
	set.Fix(Key{Kind: TermG1})

	// The free vector only carries the intercept; the slope is pinned.
	residuals := func(vals []float64) ([]float64, error) {
		r := make([]float64, len(data))
		for i := range data {
			r[i] = data[i] - (vals[0] - float64(i))
		}
		return r, nil
	}
	_, err := NewLeastSquares(nil).Fit(set, residuals)
	require.NoError(t, err)
	assert.InDelta(t, 2, set.Get(Key{Kind: TermScale}).Value, 1e-8)
	assert.Equal(t, -1.0, set.Get(Key{Kind: TermG1}).Value)
}

func TestLeastSquaresUnderdetermined(t *testing.T) {
	set := lineSet(0, 0)
	_, err := NewLeastSquares(nil).Fit(set, func(vals []float64) ([]float64, error) {
		return []float64{vals[0]}, nil
	})
	assert.ErrorIs(t, err, domain.ErrModelFit)
}

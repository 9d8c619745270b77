package fitter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starpsf/internal/domain"
)

// quadTerm builds a star contribution quadratic in the resolved vector,
// so central differences are exact and the slope shortcut must agree
// with the per-parameter stencils to rounding error.
func quadTerm(pos domain.Position, targets []float64) StarTerm {
	return StarTerm{
		Pos: pos,
		Chi2: func(resolved []float64) (float64, error) {
			var sum float64
			for c, r := range resolved {
				d := r - targets[c]
				sum += float64(c+1) * d * d
			}
			return sum, nil
		},
	}
}

func gradTestSetup() (*ParameterSet, []StarTerm) {
	set := NewFieldParameterSet()
	set.SetValue(Key{Kind: TermScale}, 0.15)
	set.SetValue(Key{Kind: TermG1}, 0.02)
	set.SetValue(Key{Kind: TermAberration, Index: 4, Axis: AxisD}, 0.3)
	set.SetValue(Key{Kind: TermAberration, Index: 4, Axis: AxisX}, 0.05)
	set.SetValue(Key{Kind: TermAberration, Index: 7, Axis: AxisY}, -0.08)

	positions := []domain.Position{
		{U: -0.9, V: 0.3},
		{U: 0.4, V: -0.7},
		{U: 0.1, V: 0.9},
		{U: -0.5, V: -0.2},
	}
	targets := make([]float64, 11)
	for i := range targets {
		targets[i] = 0.1 * float64(i-4)
	}
	terms := make([]StarTerm, len(positions))
	for i, p := range positions {
		terms[i] = quadTerm(p, targets)
	}
	return set, terms
}

func TestShortcutMatchesBruteForce(t *testing.T) {
	set, terms := gradTestSetup()
	fd := &FDGradient{}

	fast, err := fd.Grad(set, terms)
	require.NoError(t, err)
	slow, err := fd.BruteGrad(set, terms)
	require.NoError(t, err)

	require.Equal(t, len(slow), len(fast))
	for k, want := range slow {
		got, ok := fast[k]
		require.True(t, ok, k.String())
		tol := 1e-8 * math.Max(1, math.Abs(want))
		assert.InDelta(t, want, got, tol, k.String())
	}
}

func TestGradRespectsFixedParameters(t *testing.T) {
	set, terms := gradTestSetup()
	set.Fix(Key{Kind: TermScale})
	set.Fix(Key{Kind: TermAberration, Index: 4, Axis: AxisX})

	fd := &FDGradient{}
	grad, err := fd.Grad(set, terms)
	require.NoError(t, err)
	assert.Equal(t, 25, len(grad))
	_, has := grad[Key{Kind: TermScale}]
	assert.False(t, has)
}

func TestGradNoFreeParameters(t *testing.T) {
	set := NewFieldParameterSet()
	for _, k := range set.Keys() {
		set.Fix(k)
	}
	fd := &FDGradient{}
	_, err := fd.Grad(set, nil)
	assert.ErrorIs(t, err, domain.ErrModelFit)
}

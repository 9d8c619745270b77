package fitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplerFindsPosteriorMedian(t *testing.T) {
	// chisq = ((x-2)/0.1)^2: a Gaussian posterior with sigma 0.1.
	objective := func(vals []float64) (float64, error) {
		d := (vals[0] - 2) / 0.1
		return d * d, nil
	}

	set := NewParameterSet()
	set.Add(Key{Kind: TermScale}, Param{Value: 2.05, Err: 0.1})

	s := NewSampler(42, nil)
	res, err := s.Sample(set, objective)
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.InDelta(t, 2, set.Get(Key{Kind: TermScale}).Value, 0.05)
	assert.InDelta(t, 0.1, set.Get(Key{Kind: TermScale}).Err, 0.06)
}

func TestSamplerRespectsBounds(t *testing.T) {
	objective := func(vals []float64) (float64, error) {
		d := vals[0] - 2
		return d * d, nil
	}

	set := NewParameterSet()
	set.Add(Key{Kind: TermScale}, Param{Value: 0.4, Min: 0, Max: 0.5, Err: 0.05})

	s := NewSampler(7, nil)
	res, err := s.Sample(set, objective)
	require.NoError(t, err)
	// Every retained sample stays inside the box.
	assert.LessOrEqual(t, res.Values[0], 0.5)
	assert.GreaterOrEqual(t, res.Values[0], 0.0)
}

func TestSamplerRejectsTinyBudget(t *testing.T) {
	set := NewParameterSet()
	set.Add(Key{Kind: TermScale}, Param{Value: 0})
	s := NewSampler(1, nil)
	s.NSamples = 3
	_, err := s.Sample(set, func(vals []float64) (float64, error) { return 0, nil })
	assert.Error(t, err)
}

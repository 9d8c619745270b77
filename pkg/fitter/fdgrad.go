package fitter

import (
	"fmt"

	"starpsf/internal/domain"
)

// StarTerm is one star's contribution to the shape chi-square: its
// field position plus a closure evaluating the contribution for a
// resolved field vector.
type StarTerm struct {
	Pos  domain.Position
	Chi2 func(resolved []float64) (float64, error)
}

// FDGradient computes the gradient of the total shape chi-square over a
// field ParameterSet by central finite differences.
//
// Because each aberration resolves linearly in the field coordinates,
// one stencil per star on the resolved value serves all three of its
// parameters: the offset gradient is the per-star sum, and each slope
// gradient is the same sum weighted by the corresponding coordinate.
type FDGradient struct{}

// resolvedIndex maps a key to its component in the resolved vector, or
// -1 for keys that do not appear there (flux, centroid).
func resolvedIndex(k Key) int {
	switch k.Kind {
	case TermScale:
		return 0
	case TermG1:
		return 1
	case TermG2:
		return 2
	case TermAberration:
		return 3 + k.Index - minZIndex
	}
	return -1
}

func stencilStep(set *ParameterSet, c int) float64 {
	if c < 3 {
		return atmoStep
	}
	k := Key{Kind: TermAberration, Index: c - 3 + minZIndex, Axis: AxisD}
	if p := set.Get(k); p.Step > 0 {
		return p.Step
	}
	return zOffStep
}

// Grad returns the chi-square gradient for every free key in the set.
func (g *FDGradient) Grad(set *ParameterSet, stars []StarTerm) (map[Key]float64, error) {
	free := set.Free()
	if len(free) == 0 {
		return nil, fmt.Errorf("%w: no free parameters", domain.ErrModelFit)
	}

	// Which resolved components have at least one free parameter.
	active := make(map[int]bool)
	for _, k := range free {
		if c := resolvedIndex(k); c >= 0 {
			active[c] = true
		}
	}

	// Per-star derivative of the chi-square contribution with respect
	// to each active resolved component.
	dchi := make([]map[int]float64, len(stars))
	for i, st := range stars {
		resolved := set.ResolveField(st.Pos)
		dchi[i] = make(map[int]float64, len(active))
		for c := range active {
			h := stencilStep(set, c)
			orig := resolved[c]

			resolved[c] = orig + h
			hi, err := st.Chi2(resolved)
			if err != nil {
				return nil, err
			}
			resolved[c] = orig - h
			lo, err := st.Chi2(resolved)
			if err != nil {
				return nil, err
			}
			resolved[c] = orig

			dchi[i][c] = (hi - lo) / (2 * h)
		}
	}

	grad := make(map[Key]float64, len(free))
	for _, k := range free {
		c := resolvedIndex(k)
		if c < 0 {
			grad[k] = 0
			continue
		}
		var sum float64
		for i, st := range stars {
			d := dchi[i][c]
			if k.Kind == TermAberration {
				switch k.Axis {
				case AxisX:
					d *= st.Pos.U
				case AxisY:
					d *= st.Pos.V
				}
			}
			sum += d
		}
		grad[k] = sum
	}
	return grad, nil
}

// BruteGrad computes the same gradient with one stencil per parameter,
// re-resolving every star each time. It is the reference the shortcut
// is checked against.
func (g *FDGradient) BruteGrad(set *ParameterSet, stars []StarTerm) (map[Key]float64, error) {
	free := set.Free()
	if len(free) == 0 {
		return nil, fmt.Errorf("%w: no free parameters", domain.ErrModelFit)
	}

	total := func(s *ParameterSet) (float64, error) {
		var sum float64
		for _, st := range stars {
			v, err := st.Chi2(s.ResolveField(st.Pos))
			if err != nil {
				return 0, err
			}
			sum += v
		}
		return sum, nil
	}

	grad := make(map[Key]float64, len(free))
	for _, k := range free {
		if resolvedIndex(k) < 0 {
			grad[k] = 0
			continue
		}
		p := set.Get(k)
		h := p.Step
		if h <= 0 {
			h = zOffStep
		}
		work := set.Clone()
		work.SetValue(k, p.Value+h)
		hi, err := total(work)
		if err != nil {
			return nil, err
		}
		work.SetValue(k, p.Value-h)
		lo, err := total(work)
		if err != nil {
			return nil, err
		}
		grad[k] = (hi - lo) / (2 * h)
	}
	return grad, nil
}

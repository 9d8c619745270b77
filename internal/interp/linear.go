// Package interp provides spatial interpolation of per-star fit
// parameters across the field of view.
package interp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"starpsf/internal/domain"
)

// Linear fits each parameter as an affine function of field position,
// p(u, v) = c0 + cu*u + cv*v, by least squares over the training stars.
type Linear struct {
	nParams int
	coeffs  *mat.Dense // 3 x nParams, rows are (c0, cu, cv)
}

func NewLinear() *Linear {
	return &Linear{}
}

// Train solves the affine coefficients from fitted stars. At least
// three non-collinear positions are required.
func (l *Linear) Train(positions []domain.Position, params [][]float64) error {
	m := len(positions)
	if m != len(params) {
		return fmt.Errorf("%w: %d positions but %d parameter vectors", domain.ErrModelFit, m, len(params))
	}
	if m < 3 {
		return fmt.Errorf("%w: linear interpolation needs at least 3 stars, got %d", domain.ErrModelFit, m)
	}
	n := len(params[0])
	for i, p := range params {
		if len(p) != n {
			return fmt.Errorf("%w: parameter vector %d has length %d, want %d", domain.ErrModelFit, i, len(p), n)
		}
	}

	design := mat.NewDense(m, 3, nil)
	target := mat.NewDense(m, n, nil)
	for i, pos := range positions {
		design.Set(i, 0, 1)
		design.Set(i, 1, pos.U)
		design.Set(i, 2, pos.V)
		for j, v := range params[i] {
			target.Set(i, j, v)
		}
	}

	var coeffs mat.Dense
	if err := coeffs.Solve(design, target); err != nil {
		return fmt.Errorf("%w: degenerate star positions: %v", domain.ErrModelFit, err)
	}
	l.nParams = n
	l.coeffs = &coeffs
	return nil
}

// Interpolate evaluates the trained surface at a position. Before
// training it returns nil.
func (l *Linear) Interpolate(pos domain.Position) []float64 {
	if l.coeffs == nil {
		return nil
	}
	out := make([]float64, l.nParams)
	for j := 0; j < l.nParams; j++ {
		out[j] = l.coeffs.At(0, j) + l.coeffs.At(1, j)*pos.U + l.coeffs.At(2, j)*pos.V
	}
	return out
}

package domain

import (
	"math"
	"math/cmplx"
)

// Shear is a two-component ellipticity in the reduced-shear (g)
// convention, bounded inside the unit disk.
type Shear struct {
	G1 float64
	G2 float64
}

func (s Shear) complex() complex128 { return complex(s.G1, s.G2) }

func (s Shear) AbsSq() float64 { return s.G1*s.G1 + s.G2*s.G2 }

func (s Shear) Neg() Shear { return Shear{-s.G1, -s.G2} }

// Add composes two shears. Shear composition is a Moebius map on the
// unit disk, not vector addition; the rotation part of the composition
// is discarded.
func (s Shear) Add(t Shear) Shear {
	num := s.complex() + t.complex()
	den := 1 + cmplx.Conj(s.complex())*t.complex()
	g := num / den
	return Shear{real(g), imag(g)}
}

// Sub composes s with the inverse of t.
func (s Shear) Sub(t Shear) Shear { return s.Add(t.Neg()) }

// Rotate rotates the shear position angle by theta radians.
func (s Shear) Rotate(theta float64) Shear {
	g := s.complex() * cmplx.Exp(complex(0, 2*theta))
	return Shear{real(g), imag(g)}
}

// Distortion returns the normalized distortion e = 2g / (1 + |g|^2).
func (s Shear) Distortion() (e1, e2 float64) {
	f := 2 / (1 + s.AbsSq())
	return s.G1 * f, s.G2 * f
}

// ShearFromDistortion converts a normalized distortion back to reduced
// shear, g = e / (1 + sqrt(1 - |e|^2)).
func ShearFromDistortion(e1, e2 float64) Shear {
	absesq := e1*e1 + e2*e2
	if absesq >= 1 {
		// Degenerate distortion; clamp to the disk edge direction.
		r := math.Sqrt(absesq)
		return Shear{e1 / r * 0.999, e2 / r * 0.999}
	}
	f := 1 / (1 + math.Sqrt(1-absesq))
	return Shear{e1 * f, e2 * f}
}

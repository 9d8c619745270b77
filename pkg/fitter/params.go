// Package fitter provides the optimization backends used to fit
// profile parameters to pixel data and field parameters to ensembles of
// star shapes.
package fitter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"starpsf/internal/domain"
)

// TermKind identifies what a fit parameter controls.
type TermKind int

const (
	TermFlux TermKind = iota
	TermCenterU
	TermCenterV
	TermScale
	TermG1
	TermG2
	TermAberration
)

// Axis distinguishes the spatial dependence of an aberration term:
// constant offset, or linear slope in either field coordinate.
type Axis int

const (
	AxisD Axis = iota
	AxisX
	AxisY
)

// Key names a single parameter. Index is the Zernike index for
// aberration terms and zero otherwise.
type Key struct {
	Kind  TermKind
	Index int
	Axis  Axis
}

func (k Key) String() string {
	switch k.Kind {
	case TermFlux:
		return "flux"
	case TermCenterU:
		return "du"
	case TermCenterV:
		return "dv"
	case TermScale:
		return "size"
	case TermG1:
		return "g1"
	case TermG2:
		return "g2"
	}
	var axis string
	switch k.Axis {
	case AxisD:
		axis = "d"
	case AxisX:
		axis = "x"
	case AxisY:
		axis = "y"
	}
	return fmt.Sprintf("z%02d%s", k.Index, axis)
}

// ParseKey inverts Key.String.
func ParseKey(s string) (Key, error) {
	switch s {
	case "flux":
		return Key{Kind: TermFlux}, nil
	case "du":
		return Key{Kind: TermCenterU}, nil
	case "dv":
		return Key{Kind: TermCenterV}, nil
	case "size":
		return Key{Kind: TermScale}, nil
	case "g1":
		return Key{Kind: TermG1}, nil
	case "g2":
		return Key{Kind: TermG2}, nil
	}
	if strings.HasPrefix(s, "z") && len(s) == 4 {
		idx, err := strconv.Atoi(s[1:3])
		if err == nil {
			var axis Axis
			switch s[3] {
			case 'd':
				axis = AxisD
			case 'x':
				axis = AxisX
			case 'y':
				axis = AxisY
			default:
				return Key{}, fmt.Errorf("%w: unknown parameter axis in %q", domain.ErrConfiguration, s)
			}
			return Key{Kind: TermAberration, Index: idx, Axis: axis}, nil
		}
	}
	return Key{}, fmt.Errorf("%w: unknown parameter key %q", domain.ErrConfiguration, s)
}

// Param is the state of a single fit parameter. Min == Max == 0 means
// unbounded. Step is the finite-difference scale; Err the reported
// one-sigma uncertainty after a fit.
type Param struct {
	Value float64
	Fixed bool
	Min   float64
	Max   float64
	Step  float64
	Err   float64
}

func (p Param) bounded() bool { return p.Min != 0 || p.Max != 0 }

// Clamp returns v pushed inside the parameter's bounds.
func (p Param) Clamp(v float64) float64 {
	if !p.bounded() {
		return v
	}
	return math.Min(math.Max(v, p.Min), p.Max)
}

// InBounds reports whether v lies inside the closed interval.
func (p Param) InBounds(v float64) bool {
	return !p.bounded() || (v >= p.Min && v <= p.Max)
}

// ParameterSet is an ordered collection of named parameters. Iteration
// order is insertion order, which fixes the layout of every flattened
// vector derived from the set.
type ParameterSet struct {
	keys   []Key
	params map[Key]*Param
}

func NewParameterSet() *ParameterSet {
	return &ParameterSet{params: make(map[Key]*Param)}
}

// Add registers a parameter. Re-adding an existing key overwrites its
// state without changing its position.
func (s *ParameterSet) Add(k Key, p Param) {
	if _, ok := s.params[k]; !ok {
		s.keys = append(s.keys, k)
	}
	cp := p
	s.params[k] = &cp
}

func (s *ParameterSet) Has(k Key) bool {
	_, ok := s.params[k]
	return ok
}

func (s *ParameterSet) Get(k Key) Param {
	if p, ok := s.params[k]; ok {
		return *p
	}
	return Param{}
}

func (s *ParameterSet) SetValue(k Key, v float64) {
	if p, ok := s.params[k]; ok {
		p.Value = v
	}
}

func (s *ParameterSet) SetErr(k Key, e float64) {
	if p, ok := s.params[k]; ok {
		p.Err = e
	}
}

func (s *ParameterSet) Fix(k Key) {
	if p, ok := s.params[k]; ok {
		p.Fixed = true
	}
}

func (s *ParameterSet) Release(k Key) {
	if p, ok := s.params[k]; ok {
		p.Fixed = false
	}
}

// Keys returns the insertion-ordered key list. The slice is shared;
// callers must not mutate it.
func (s *ParameterSet) Keys() []Key { return s.keys }

func (s *ParameterSet) Len() int { return len(s.keys) }

func (s *ParameterSet) Clone() *ParameterSet {
	out := NewParameterSet()
	for _, k := range s.keys {
		out.Add(k, *s.params[k])
	}
	return out
}

// Free returns the keys of the unfixed parameters, in set order.
func (s *ParameterSet) Free() []Key {
	var free []Key
	for _, k := range s.keys {
		if !s.params[k].Fixed {
			free = append(free, k)
		}
	}
	return free
}

// FreeValues flattens the unfixed parameter values, in set order.
func (s *ParameterSet) FreeValues() []float64 {
	var vals []float64
	for _, k := range s.keys {
		if !s.params[k].Fixed {
			vals = append(vals, s.params[k].Value)
		}
	}
	return vals
}

// SetFreeValues writes a flattened free vector back into the set.
func (s *ParameterSet) SetFreeValues(vals []float64) error {
	free := s.Free()
	if len(vals) != len(free) {
		return fmt.Errorf("%w: free vector has %d entries, want %d", domain.ErrModelFit, len(vals), len(free))
	}
	for i, k := range free {
		s.params[k].Value = vals[i]
	}
	return nil
}

// FlatParam is the serializable form of one parameter.
type FlatParam struct {
	Name  string  `yaml:"name"`
	Value float64 `yaml:"value"`
	Fixed bool    `yaml:"fixed"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Step  float64 `yaml:"step"`
	Error float64 `yaml:"error"`
}

// Flatten exports the set for persistence, in set order.
func (s *ParameterSet) Flatten() []FlatParam {
	out := make([]FlatParam, 0, len(s.keys))
	for _, k := range s.keys {
		p := s.params[k]
		out = append(out, FlatParam{
			Name:  k.String(),
			Value: p.Value,
			Fixed: p.Fixed,
			Min:   p.Min,
			Max:   p.Max,
			Step:  p.Step,
			Error: p.Err,
		})
	}
	return out
}

// Restore rebuilds a set from its flattened form.
func Restore(flat []FlatParam) (*ParameterSet, error) {
	s := NewParameterSet()
	for _, f := range flat {
		k, err := ParseKey(f.Name)
		if err != nil {
			return nil, err
		}
		s.Add(k, Param{
			Value: f.Value,
			Fixed: f.Fixed,
			Min:   f.Min,
			Max:   f.Max,
			Step:  f.Step,
			Err:   f.Error,
		})
	}
	return s, nil
}

// Field-fit defaults: finite-difference steps, starting uncertainties
// and hard limits for each parameter family.
const (
	atmoStep  = 1e-4
	zOffStep  = 1e-3
	zSlpStep  = 1e-5
	atmoErr   = 1e-2
	zSlpErr   = 1e-4
	sizeMin   = 0.01
	sizeMax   = 0.5
	shearLim  = 0.2
	minZIndex = 4
	maxZIndex = 11
)

// NewFieldParameterSet builds the canonical field-fit parameter set:
// constant atmosphere terms (size, g1, g2) followed by an offset and
// two linear slopes for each aberration index.
func NewFieldParameterSet() *ParameterSet {
	s := NewParameterSet()
	s.Add(Key{Kind: TermScale}, Param{Value: 1, Min: sizeMin, Max: sizeMax, Step: atmoStep, Err: atmoErr})
	s.Add(Key{Kind: TermG1}, Param{Min: -shearLim, Max: shearLim, Step: atmoStep, Err: atmoErr})
	s.Add(Key{Kind: TermG2}, Param{Min: -shearLim, Max: shearLim, Step: atmoStep, Err: atmoErr})
	for z := minZIndex; z <= maxZIndex; z++ {
		s.Add(Key{Kind: TermAberration, Index: z, Axis: AxisD}, Param{Step: zOffStep, Err: atmoErr})
		s.Add(Key{Kind: TermAberration, Index: z, Axis: AxisX}, Param{Step: zSlpStep, Err: zSlpErr})
		s.Add(Key{Kind: TermAberration, Index: z, Axis: AxisY}, Param{Step: zSlpStep, Err: zSlpErr})
	}
	return s
}

// ResolveField evaluates the set at a field position: size, g1 and g2
// pass through, and each aberration resolves as offset plus the linear
// slopes times the field coordinates. The result is the renderer's
// [size, g1, g2, z4..z11] vector.
func (s *ParameterSet) ResolveField(pos domain.Position) []float64 {
	resolved := make([]float64, 3+maxZIndex-minZIndex+1)
	resolved[0] = s.Get(Key{Kind: TermScale}).Value
	resolved[1] = s.Get(Key{Kind: TermG1}).Value
	resolved[2] = s.Get(Key{Kind: TermG2}).Value
	for z := minZIndex; z <= maxZIndex; z++ {
		d := s.Get(Key{Kind: TermAberration, Index: z, Axis: AxisD}).Value
		x := s.Get(Key{Kind: TermAberration, Index: z, Axis: AxisX}).Value
		y := s.Get(Key{Kind: TermAberration, Index: z, Axis: AxisY}).Value
		resolved[3+z-minZIndex] = d + x*pos.U + y*pos.V
	}
	return resolved
}

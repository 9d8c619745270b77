package domain

import "math"

// Image is a postage-stamp pixel grid stored row-major in float64.
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

func (im *Image) At(x, y int) float64 {
	return im.Pix[y*im.Width+x]
}

func (im *Image) Set(x, y int, v float64) {
	im.Pix[y*im.Width+x] = v
}

func (im *Image) Clone() *Image {
	out := NewImage(im.Width, im.Height)
	copy(out.Pix, im.Pix)
	return out
}

// CenterX and CenterY give the geometric center of the stamp; for
// even-sized stamps this falls between pixels.
func (im *Image) CenterX() float64 { return float64(im.Width-1) / 2 }
func (im *Image) CenterY() float64 { return float64(im.Height-1) / 2 }

func (im *Image) Sum() float64 {
	s := 0.0
	for _, v := range im.Pix {
		s += v
	}
	return s
}

func (im *Image) Max() float64 {
	m := math.Inf(-1)
	for _, v := range im.Pix {
		if v > m {
			m = v
		}
	}
	return m
}

// CountNonzero reports the number of nonzero pixels. On a weight map
// this is the pixel count entering the degrees-of-freedom bookkeeping.
func (im *Image) CountNonzero() int {
	n := 0
	for _, v := range im.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

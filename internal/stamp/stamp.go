// Public domain.

// Package stamp extracts the small normalised image cutouts ("stamps")
// the real/bogus classifier consumes.
package stamp

import (
	"context"
	"math"
)

// Dim is the stamp side length in pixels the classifiers are trained on.
const Dim = 20

// Stamp is a square cutout centred on a candidate.  Pix is row major,
// Pix[y*Dim+x], with y running along FITS NAXIS2.
//
// Zeroed counts the pixels that were non-finite or masked and so were
// replaced by zero.
type Stamp struct {
	Dim    int
	Pix    []float64
	Zeroed int
}

// Zero returns an all-zero stamp, the neutral value for an image that
// could not be read.
func Zero(dim int) Stamp {
	return Stamp{Dim: dim, Pix: make([]float64, dim*dim)}
}

// At returns the pixel at column x, row y.
func (s Stamp) At(x, y int) float64 {
	return s.Pix[y*s.Dim+x]
}

// Extractor produces a stamp from an image file.
//
// ext selects the FITS HDU.  When magic is non-nil, raw pixels equal to
// *magic are masked before normalisation.
type Extractor interface {
	Extract(ctx context.Context, path string, ext int, magic *int) (Stamp, error)
}

// Cutout cuts a dim x dim stamp centred on the w x h image pix (row major).
// Pixels falling outside the image are NaN so that normalisation treats
// them like masked pixels.
func Cutout(pix []float64, w, h, dim int) Stamp {
	s := Stamp{Dim: dim, Pix: make([]float64, dim*dim)}
	x0 := w/2 - dim/2
	y0 := h/2 - dim/2
	for y := 0; y < dim; y++ {
		sy := y0 + y
		for x := 0; x < dim; x++ {
			sx := x0 + x
			if sx < 0 || sy < 0 || sx >= w || sy >= h {
				s.Pix[y*dim+x] = math.NaN()
				continue
			}
			s.Pix[y*dim+x] = pix[sy*w+sx]
		}
	}
	return s
}

// SignPreserveNorm scales s into [-1, 1] by dividing by the largest
// absolute finite pixel value, keeping pixel signs.  Non-finite pixels
// become zero and are counted in Zeroed.
func (s Stamp) SignPreserveNorm() Stamp {
	var m float64
	for _, v := range s.Pix {
		if isFinite(v) && math.Abs(v) > m {
			m = math.Abs(v)
		}
	}
	out := Stamp{Dim: s.Dim, Pix: make([]float64, len(s.Pix)), Zeroed: s.Zeroed}
	for i, v := range s.Pix {
		switch {
		case !isFinite(v):
			out.Zeroed++
		case m > 0:
			out.Pix[i] = v / m
		}
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Public domain.

package stamp

import (
	"context"
	"fmt"
	"math"

	"github.com/astrogo/fitsio"

	"github.com/psat-ml/rbscore/internal/blobstore"
)

// FITS extracts stamps from FITS difference images held in a blob store.
type FITS struct {
	Store blobstore.Store
	Dim   int // stamp side; zero means Dim
}

// Extract reads HDU ext of the image at path and returns its normalised
// central stamp.
func (f FITS) Extract(ctx context.Context, path string, ext int, magic *int) (Stamp, error) {
	dim := f.Dim
	if dim == 0 {
		dim = Dim
	}
	rc, err := f.Store.Open(ctx, path)
	if err != nil {
		return Stamp{}, err
	}
	defer rc.Close()

	file, err := fitsio.Open(rc)
	if err != nil {
		return Stamp{}, fmt.Errorf("%s: %w", path, err)
	}
	defer file.Close()

	hdus := file.HDUs()
	if ext < 0 || ext >= len(hdus) {
		return Stamp{}, fmt.Errorf("%s: extension %d not present (%d HDUs)", path, ext, len(hdus))
	}
	img, ok := hdus[ext].(fitsio.Image)
	if !ok {
		return Stamp{}, fmt.Errorf("%s: extension %d is not an image", path, ext)
	}
	pix, w, h, err := ReadPixels(img, magic)
	if err != nil {
		return Stamp{}, fmt.Errorf("%s: %w", path, err)
	}
	return Cutout(pix, w, h, dim).SignPreserveNorm(), nil
}

// ReadPixels returns the first plane of img as physical values
// (BSCALE*raw + BZERO), row major, with its width and height.
// Raw values equal to *magic are returned as NaN.  img.Read fills a
// slice already sized to the image.
func ReadPixels(img fitsio.Image, magic *int) (pix []float64, w, h int, err error) {
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) < 2 {
		return nil, 0, 0, fmt.Errorf("image has %d axes, need 2", len(axes))
	}
	w, h = axes[0], axes[1]
	n := w * h
	pix = make([]float64, n)

	masked := func(raw float64) bool {
		return magic != nil && raw == float64(*magic)
	}
	switch hdr.Bitpix() {
	case 8:
		raw := make([]uint8, n)
		if err = img.Read(&raw); err != nil {
			return
		}
		err = fill(pix, len(raw), func(i int) float64 { return float64(raw[i]) }, masked)
	case 16:
		raw := make([]int16, n)
		if err = img.Read(&raw); err != nil {
			return
		}
		err = fill(pix, len(raw), func(i int) float64 { return float64(raw[i]) }, masked)
	case 32:
		raw := make([]int32, n)
		if err = img.Read(&raw); err != nil {
			return
		}
		err = fill(pix, len(raw), func(i int) float64 { return float64(raw[i]) }, masked)
	case 64:
		raw := make([]int64, n)
		if err = img.Read(&raw); err != nil {
			return
		}
		err = fill(pix, len(raw), func(i int) float64 { return float64(raw[i]) }, masked)
	case -32:
		raw := make([]float32, n)
		if err = img.Read(&raw); err != nil {
			return
		}
		err = fill(pix, len(raw), func(i int) float64 { return float64(raw[i]) }, masked)
	case -64:
		raw := make([]float64, n)
		if err = img.Read(&raw); err != nil {
			return
		}
		err = fill(pix, len(raw), func(i int) float64 { return raw[i] }, masked)
	default:
		err = fmt.Errorf("unsupported BITPIX %d", hdr.Bitpix())
	}
	if err != nil {
		return
	}

	bscale := cardFloat(hdr, "BSCALE", 1)
	bzero := cardFloat(hdr, "BZERO", 0)
	if bscale != 1 || bzero != 0 {
		for i, v := range pix {
			pix[i] = v*bscale + bzero
		}
	}
	return
}

func fill(pix []float64, n int, at func(int) float64, masked func(float64) bool) error {
	if n < len(pix) {
		return fmt.Errorf("short image data: %d values for %d pixels", n, len(pix))
	}
	for i := range pix {
		v := at(i)
		if masked(v) {
			pix[i] = math.NaN()
			continue
		}
		pix[i] = v
	}
	return nil
}

func cardFloat(hdr *fitsio.Header, name string, def float64) float64 {
	c := hdr.Get(name)
	if c == nil {
		return def
	}
	switch v := c.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Public domain.

// Package model evaluates trained real/bogus networks.
//
// A network is a plain sequence of layers, the shape the training scripts
// build: 2D convolutions with "same" padding, max pooling, dropout,
// flatten and dense layers.  Weights are exported from the trained model
// into a JSON description read by ReadFile.  Tensors are NHWC, the layout
// of the exported weights, so flattening needs no reordering.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/psat-ml/rbscore/internal/fileio"
	"github.com/psat-ml/rbscore/internal/stamp"
)

// ErrEmptyBatch is returned when Predict is called with no stamps.
var ErrEmptyBatch = errors.New("model: empty batch")

// LayerSpec is the serialised form of one layer.
type LayerSpec struct {
	Type       string    `json:"type"`
	Filters    int       `json:"filters,omitempty"`
	Kernel     int       `json:"kernel,omitempty"`
	Pool       int       `json:"pool,omitempty"`
	Units      int       `json:"units,omitempty"`
	Activation string    `json:"activation,omitempty"`
	Weights    []float64 `json:"weights,omitempty"`
	Bias       []float64 `json:"bias,omitempty"`
}

// Spec is the serialised form of a network.  Input is height, width,
// channels.
type Spec struct {
	Input  [3]int      `json:"input"`
	Layers []LayerSpec `json:"layers"`
}

// Network is a compiled sequential network, safe for concurrent use.
type Network struct {
	in     shape
	out    int
	layers []layer
}

type shape struct{ h, w, c int }

// tensor is a batch of n NHWC activations.
type tensor struct {
	n    int
	s    shape
	data []float64
}

type layer interface {
	forward(x tensor) tensor
}

// ReadFile reads a network description, decompressing by file suffix.
func ReadFile(fn string) (*Network, error) {
	r, err := fileio.Open(fn)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	n, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	return n, nil
}

// Read decodes a network description from r.
func Read(r io.Reader) (*Network, error) {
	var s Spec
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, err
	}
	return New(s)
}

// New compiles s, checking layer shapes and weight counts.
func New(s Spec) (*Network, error) {
	cur := shape{s.Input[0], s.Input[1], s.Input[2]}
	if cur.h <= 0 || cur.w <= 0 || cur.c <= 0 {
		return nil, fmt.Errorf("invalid input shape %v", s.Input)
	}
	net := &Network{in: cur}
	for i, ls := range s.Layers {
		act, err := activation(ls.Activation)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		switch ls.Type {
		case "conv2d":
			k := ls.Kernel
			if k <= 0 || ls.Filters <= 0 {
				return nil, fmt.Errorf("layer %d: conv2d needs kernel and filters", i)
			}
			if err := checkLen(i, "weights", ls.Weights, k*k*cur.c*ls.Filters); err != nil {
				return nil, err
			}
			if err := checkLen(i, "bias", ls.Bias, ls.Filters); err != nil {
				return nil, err
			}
			net.layers = append(net.layers, &conv2d{
				k:    k,
				cin:  cur.c,
				w:    mat.NewDense(k*k*cur.c, ls.Filters, ls.Weights),
				bias: ls.Bias,
				act:  act,
			})
			cur.c = ls.Filters
		case "maxpool2d":
			p := ls.Pool
			if p <= 0 {
				p = 2
			}
			if cur.h < p || cur.w < p {
				return nil, fmt.Errorf("layer %d: pool %d larger than %dx%d input", i, p, cur.h, cur.w)
			}
			net.layers = append(net.layers, maxPool{p})
			cur.h /= p
			cur.w /= p
		case "dropout":
			// identity at inference
		case "flatten":
			net.layers = append(net.layers, flatten{})
			cur = shape{1, 1, cur.h * cur.w * cur.c}
		case "dense":
			if cur.h != 1 || cur.w != 1 {
				return nil, fmt.Errorf("layer %d: dense layer needs flattened input", i)
			}
			if ls.Units <= 0 {
				return nil, fmt.Errorf("layer %d: dense needs units", i)
			}
			if err := checkLen(i, "weights", ls.Weights, cur.c*ls.Units); err != nil {
				return nil, err
			}
			if err := checkLen(i, "bias", ls.Bias, ls.Units); err != nil {
				return nil, err
			}
			net.layers = append(net.layers, &dense{
				w:    mat.NewDense(cur.c, ls.Units, ls.Weights),
				bias: ls.Bias,
				act:  act,
			})
			cur.c = ls.Units
		default:
			return nil, fmt.Errorf("layer %d: unknown layer type %q", i, ls.Type)
		}
	}
	if cur.h != 1 || cur.w != 1 {
		return nil, errors.New("network does not end in a flat layer")
	}
	net.out = cur.c
	return net, nil
}

func checkLen(i int, what string, v []float64, want int) error {
	if len(v) != want {
		return fmt.Errorf("layer %d: %d %s, want %d", i, len(v), what, want)
	}
	return nil
}

// Classes is the width of the network output.
func (n *Network) Classes() int { return n.out }

// Forward evaluates the network on a batch of NHWC inputs, each of the
// network's input shape, and returns one output row per input.
func (n *Network) Forward(batch [][]float64) ([][]float64, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	size := n.in.h * n.in.w * n.in.c
	x := tensor{n: len(batch), s: n.in, data: make([]float64, 0, len(batch)*size)}
	for i, in := range batch {
		if len(in) != size {
			return nil, fmt.Errorf("input %d: %d values, want %d", i, len(in), size)
		}
		x.data = append(x.data, in...)
	}
	for _, l := range n.layers {
		x = l.forward(x)
	}
	out := make([][]float64, x.n)
	for i := range out {
		out[i] = x.data[i*n.out : (i+1)*n.out : (i+1)*n.out]
	}
	return out, nil
}

// Predict returns the class probability pair (bogus, real) for each stamp.
func (n *Network) Predict(batch []stamp.Stamp) ([][2]float64, error) {
	if n.out != 2 {
		return nil, fmt.Errorf("network has %d outputs, want 2", n.out)
	}
	if n.in.c != 1 {
		return nil, fmt.Errorf("network takes %d channels, stamps have 1", n.in.c)
	}
	in := make([][]float64, len(batch))
	for i, s := range batch {
		if s.Dim != n.in.h || s.Dim != n.in.w {
			return nil, fmt.Errorf("stamp %d is %dx%d, network takes %dx%d",
				i, s.Dim, s.Dim, n.in.h, n.in.w)
		}
		in[i] = s.Pix
	}
	out, err := n.Forward(in)
	if err != nil {
		return nil, err
	}
	p := make([][2]float64, len(out))
	for i, row := range out {
		p[i] = [2]float64{row[0], row[1]}
	}
	return p, nil
}

type conv2d struct {
	k, cin int
	w      *mat.Dense // k*k*cin x filters
	bias   []float64
	act    func([]float64, int)
}

// forward computes a stride 1 convolution with "same" padding by
// unrolling input patches into rows (im2col) and multiplying by the
// kernel matrix.  Padding follows the training framework: the extra
// row and column for even kernels go after the image.
func (l *conv2d) forward(x tensor) tensor {
	h, w, c := x.s.h, x.s.w, x.s.c
	k := l.k
	pad := (k - 1) / 2
	rows := x.n * h * w
	cols := k * k * c
	patches := make([]float64, rows*cols)
	for b := 0; b < x.n; b++ {
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				r := ((b*h+y)*w + xx) * cols
				for i := 0; i < k; i++ {
					sy := y + i - pad
					if sy < 0 || sy >= h {
						continue
					}
					for j := 0; j < k; j++ {
						sx := xx + j - pad
						if sx < 0 || sx >= w {
							continue
						}
						src := ((b*h+sy)*w + sx) * c
						copy(patches[r+(i*k+j)*c:r+(i*k+j+1)*c], x.data[src:src+c])
					}
				}
			}
		}
	}
	var out mat.Dense
	out.Mul(mat.NewDense(rows, cols, patches), l.w)
	filters := len(l.bias)
	data := out.RawMatrix().Data
	addBias(data, l.bias)
	l.act(data, filters)
	return tensor{n: x.n, s: shape{h, w, filters}, data: data}
}

type maxPool struct{ p int }

func (l maxPool) forward(x tensor) tensor {
	h, w, c := x.s.h/l.p, x.s.w/l.p, x.s.c
	out := make([]float64, x.n*h*w*c)
	for b := 0; b < x.n; b++ {
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				o := ((b*h+y)*w + xx) * c
				for ch := 0; ch < c; ch++ {
					m := math.Inf(-1)
					for i := 0; i < l.p; i++ {
						for j := 0; j < l.p; j++ {
							sy, sx := y*l.p+i, xx*l.p+j
							if v := x.data[((b*x.s.h+sy)*x.s.w+sx)*c+ch]; v > m {
								m = v
							}
						}
					}
					out[o+ch] = m
				}
			}
		}
	}
	return tensor{n: x.n, s: shape{h, w, c}, data: out}
}

type flatten struct{}

func (flatten) forward(x tensor) tensor {
	x.s = shape{1, 1, x.s.h * x.s.w * x.s.c}
	return x
}

type dense struct {
	w    *mat.Dense // in x units
	bias []float64
	act  func([]float64, int)
}

func (l *dense) forward(x tensor) tensor {
	var out mat.Dense
	out.Mul(mat.NewDense(x.n, x.s.c, x.data), l.w)
	units := len(l.bias)
	data := out.RawMatrix().Data
	addBias(data, l.bias)
	l.act(data, units)
	return tensor{n: x.n, s: shape{1, 1, units}, data: data}
}

func addBias(data, bias []float64) {
	for i := range data {
		data[i] += bias[i%len(bias)]
	}
}

// activation returns a function applying the named activation in place
// to rows of the given width.
func activation(name string) (func([]float64, int), error) {
	switch name {
	case "", "linear":
		return func([]float64, int) {}, nil
	case "relu":
		return func(d []float64, _ int) {
			for i, v := range d {
				if v < 0 {
					d[i] = 0
				}
			}
		}, nil
	case "sigmoid":
		return func(d []float64, _ int) {
			for i, v := range d {
				d[i] = 1 / (1 + math.Exp(-v))
			}
		}, nil
	case "softmax":
		return softmax, nil
	}
	return nil, fmt.Errorf("unknown activation %q", name)
}

func softmax(d []float64, width int) {
	for r := 0; r+width <= len(d); r += width {
		row := d[r : r+width]
		m := math.Inf(-1)
		for _, v := range row {
			m = math.Max(m, v)
		}
		var sum float64
		for i, v := range row {
			row[i] = math.Exp(v - m)
			sum += row[i]
		}
		for i := range row {
			row[i] /= sum
		}
	}
}

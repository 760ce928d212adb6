package hyperparam

import (
	"fmt"

	"github.com/tlanc/masklearn/tensor"
)

// Deterministic is a directly-optimized hyperparameter: a flat vector of
// weights laid out according to a Pattern. The vector is the single source of
// truth for the outer loop; every published value carries a generation number
// so downstream readers can prove they hold the latest one.
type Deterministic struct {
	pattern Pattern
	h, w    int
	values  *tensor.Tensor
	gen     uint64
}

// NewDeterministic creates a deterministic parameterization with every entry
// set to init.
func NewDeterministic(pattern Pattern, h, w int, init float64) (*Deterministic, error) {
	n, err := pattern.Len(h, w)
	if err != nil {
		return nil, err
	}
	values, err := tensor.Full([]int{n}, init)
	if err != nil {
		return nil, err
	}
	return &Deterministic{pattern: pattern, h: h, w: w, values: values, gen: 1}, nil
}

func (d *Deterministic) Pattern() Pattern { return d.pattern }

// Len returns the number of free parameters.
func (d *Deterministic) Len() int { return d.values.NumElems }

// Flat returns the live parameter vector. The outer optimizer mutates this
// slice in place and must call Bump afterwards to advance the generation.
func (d *Deterministic) Flat() []float64 { return d.values.Data }

// Values returns the parameter tensor.
func (d *Deterministic) Values() *tensor.Tensor { return d.values }

// Clone returns a detached copy of the current parameter vector.
func (d *Deterministic) Clone() *tensor.Tensor { return d.values.Clone() }

// Restore overwrites the parameter vector and advances the generation.
func (d *Deterministic) Restore(v *tensor.Tensor) error {
	if v.NumElems != d.values.NumElems {
		return fmt.Errorf("restore: length %d does not match parameter length %d", v.NumElems, d.values.NumElems)
	}
	copy(d.values.Data, v.Data)
	d.Bump()
	return nil
}

// Generation returns the current publish generation.
func (d *Deterministic) Generation() uint64 { return d.gen }

// Bump advances the publish generation after an in-place mutation.
func (d *Deterministic) Bump() { d.gen++ }

// Grid reshapes the flat vector into the spatial domain [h, w] according to
// the pattern.
func (d *Deterministic) Grid() (*tensor.Tensor, error) {
	return SpreadGrid(d.values, d.pattern, d.h, d.w)
}

// SpreadGrid broadcasts a flat parameter vector to an h-by-w grid according
// to the pattern layout.
func SpreadGrid(flat *tensor.Tensor, pattern Pattern, h, w int) (*tensor.Tensor, error) {
	n, err := pattern.Len(h, w)
	if err != nil {
		return nil, err
	}
	if flat.NumElems != n {
		return nil, fmt.Errorf("pattern %s needs %d parameters on a %dx%d grid, got %d", pattern, n, h, w, flat.NumElems)
	}
	out, err := tensor.Zeros([]int{h, w})
	if err != nil {
		return nil, err
	}
	switch pattern {
	case Isotropic:
		v := flat.Data[0]
		for i := range out.Data {
			out.Data[i] = v
		}
	case Row:
		for r := 0; r < h; r++ {
			v := flat.Data[r]
			for c := 0; c < w; c++ {
				out.Data[r*w+c] = v
			}
		}
	case Column:
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				out.Data[r*w+c] = flat.Data[c]
			}
		}
	case Grid:
		copy(out.Data, flat.Data)
	}
	return out, nil
}

// ReduceGrid sums an h-by-w grid back to the flat parameter layout. It is the
// adjoint of SpreadGrid and carries gradients from grid space to parameter
// space.
func ReduceGrid(grid *tensor.Tensor, pattern Pattern, h, w int) (*tensor.Tensor, error) {
	if !tensor.ShapesEqual(grid.Shape, []int{h, w}) {
		return nil, fmt.Errorf("reduce: grid shape %v does not match %dx%d", grid.Shape, h, w)
	}
	n, err := pattern.Len(h, w)
	if err != nil {
		return nil, err
	}
	out, err := tensor.Zeros([]int{n})
	if err != nil {
		return nil, err
	}
	switch pattern {
	case Isotropic:
		out.Data[0] = tensor.Sum(grid)
	case Row:
		for r := 0; r < h; r++ {
			s := 0.0
			for c := 0; c < w; c++ {
				s += grid.Data[r*w+c]
			}
			out.Data[r] = s
		}
	case Column:
		for c := 0; c < w; c++ {
			s := 0.0
			for r := 0; r < h; r++ {
				s += grid.Data[r*w+c]
			}
			out.Data[c] = s
		}
	case Grid:
		copy(out.Data, grid.Data)
	}
	return out, nil
}

// spreadOp records SpreadGrid on the autograd tape; its backward is
// ReduceGrid.
type spreadOp struct {
	inputs  []*tensor.Tensor
	pattern Pattern
	h, w    int
}

func (op *spreadOp) Inputs() []*tensor.Tensor { return op.inputs }

func (op *spreadOp) Backward(gradOut *tensor.Tensor) ([]*tensor.Tensor, error) {
	g, err := ReduceGrid(gradOut, op.pattern, op.h, op.w)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{g}, nil
}

// SpreadAutograd broadcasts a flat parameter vector to the grid with
// automatic differentiation.
func SpreadAutograd(flat *tensor.Tensor, pattern Pattern, h, w int) (*tensor.Tensor, error) {
	out, err := SpreadGrid(flat, pattern, h, w)
	if err != nil {
		return nil, err
	}
	tensor.Attach(out, &spreadOp{inputs: []*tensor.Tensor{flat}, pattern: pattern, h: h, w: w})
	return out, nil
}

package tensor

import (
	"fmt"
	"math/rand"
)

// Operation is implemented by every differentiable operation recorded on the
// autograd tape. Backward receives the gradient flowing into the operation's
// output and returns one gradient per input, in input order.
type Operation interface {
	Inputs() []*Tensor
	Backward(gradOut *Tensor) ([]*Tensor, error)
}

// Tensor is a dense, row-major float64 tensor. Complex-valued data is stored
// with a trailing axis of size 2 (real, imaginary).
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float64
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, nil until Backward has reached t.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGrad discards any accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// Attach records op as the creator of result so that gradients flow through it
// during Backward. Packages outside tensor use this to register custom
// differentiable operations (e.g. a forward operator with an adjoint backward).
func Attach(result *Tensor, op Operation) {
	result.creator = op
	for _, in := range op.Inputs() {
		if in.requiresGrad {
			result.requiresGrad = true
			break
		}
	}
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

// New creates a tensor with the given shape, adopting data as its backing
// storage. data length must match the shape's element count.
func New(shape []int, data []float64) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: n,
	}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	return New(shape, make([]float64, n))
}

// Ones creates a one-filled tensor with the given shape.
func Ones(shape []int) (*Tensor, error) {
	return Full(shape, 1.0)
}

// Full creates a tensor with every element set to value.
func Full(shape []int, value float64) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// FromScalar wraps a single value as a rank-1 tensor of one element.
func FromScalar(value float64) *Tensor {
	t, _ := New([]int{1}, []float64{value})
	return t
}

// RandN creates a tensor of standard normal samples drawn from rng.
func RandN(shape []int, rng *rand.Rand) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t, nil
}

// RandU creates a tensor of uniform [0, 1) samples drawn from rng.
func RandU(shape []int, rng *rand.Rand) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = rng.Float64()
	}
	return t, nil
}

// Clone returns a deep copy of the tensor data and shape. Autograd metadata is
// not carried over.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	out, _ := New(t.Shape, data)
	return out
}

// Reshape returns a view-copy of t with a new shape of equal element count.
func Reshape(t *Tensor, shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if calculateNumElements(shape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v to %v: element count mismatch", t.Shape, shape)
	}
	return New(shape, t.Data)
}

// ShapesEqual reports whether two shapes are identical.
func ShapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// At returns the element at the given coordinates.
func (t *Tensor) At(coords ...int) float64 {
	return t.Data[t.offset(coords)]
}

// SetAt sets the element at the given coordinates.
func (t *Tensor) SetAt(value float64, coords ...int) {
	t.Data[t.offset(coords)] = value
}

func (t *Tensor) offset(coords []int) int {
	if len(coords) != len(t.Shape) {
		panic(fmt.Sprintf("expected %d coordinates, got %d", len(t.Shape), len(coords)))
	}
	idx := 0
	for i, c := range coords {
		if c < 0 || c >= t.Shape[i] {
			panic(fmt.Sprintf("coordinate %d out of range for dimension %d (size %d)", c, i, t.Shape[i]))
		}
		idx += c * t.Strides[i]
	}
	return idx
}

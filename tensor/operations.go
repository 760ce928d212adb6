package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

func checkSameShape(a, b *Tensor) error {
	if !ShapesEqual(a.Shape, b.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	return nil
}

// Add computes the elementwise sum a + b.
func Add(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape(a, b); err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	out := a.Clone()
	floats.Add(out.Data, b.Data)
	return out, nil
}

// Sub computes the elementwise difference a - b.
func Sub(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape(a, b); err != nil {
		return nil, fmt.Errorf("sub: %w", err)
	}
	out := a.Clone()
	floats.Sub(out.Data, b.Data)
	return out, nil
}

// Mul computes the elementwise product a * b. A single-element operand
// broadcasts against the other.
func Mul(a, b *Tensor) (*Tensor, error) {
	if a.NumElems == 1 && b.NumElems > 1 {
		return Scale(b, a.Data[0]), nil
	}
	if b.NumElems == 1 && a.NumElems > 1 {
		return Scale(a, b.Data[0]), nil
	}
	if err := checkSameShape(a, b); err != nil {
		return nil, fmt.Errorf("mul: %w", err)
	}
	out := a.Clone()
	floats.Mul(out.Data, b.Data)
	return out, nil
}

// Scale computes s * t.
func Scale(t *Tensor, s float64) *Tensor {
	out := t.Clone()
	floats.Scale(s, out.Data)
	return out
}

// AddScaled computes dst += s * src in place.
func AddScaled(dst *Tensor, s float64, src *Tensor) error {
	if err := checkSameShape(dst, src); err != nil {
		return fmt.Errorf("addScaled: %w", err)
	}
	floats.AddScaled(dst.Data, s, src.Data)
	return nil
}

// Exp computes the elementwise exponential.
func Exp(t *Tensor) *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		out.Data[i] = math.Exp(v)
	}
	return out
}

// Sigmoid computes the elementwise logistic function.
func Sigmoid(t *Tensor) *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		out.Data[i] = 1.0 / (1.0 + math.Exp(-v))
	}
	return out
}

// Abs computes the elementwise absolute value.
func Abs(t *Tensor) *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		out.Data[i] = math.Abs(v)
	}
	return out
}

// Neg computes -t.
func Neg(t *Tensor) *Tensor {
	return Scale(t, -1)
}

// Dot computes the inner product of two tensors of equal shape.
func Dot(a, b *Tensor) (float64, error) {
	if err := checkSameShape(a, b); err != nil {
		return 0, fmt.Errorf("dot: %w", err)
	}
	return floats.Dot(a.Data, b.Data), nil
}

// Sum returns the sum of all elements.
func Sum(t *Tensor) float64 {
	return floats.Sum(t.Data)
}

// Norm returns the Euclidean norm of the flattened tensor.
func Norm(t *Tensor) float64 {
	return floats.Norm(t.Data, 2)
}

// SumSquares returns the sum of squared elements.
func SumSquares(t *Tensor) float64 {
	return floats.Dot(t.Data, t.Data)
}

// Clamp limits every element to [min, max] in place.
func Clamp(t *Tensor, min, max float64) {
	for i, v := range t.Data {
		if v < min {
			t.Data[i] = min
		} else if v > max {
			t.Data[i] = max
		}
	}
}

// CountNonzero returns the number of elements that are exactly nonzero.
func CountNonzero(t *Tensor) int {
	n := 0
	for _, v := range t.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

package tensor

import (
	"fmt"
)

// reduceGradientToShape reduces a gradient tensor to match the target shape.
// This is needed when a single-element operand was broadcast during the
// forward pass.
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if ShapesEqual(grad.Shape, targetShape) {
		return grad.Clone(), nil
	}
	if calculateNumElements(targetShape) == 1 {
		return New(targetShape, []float64{Sum(grad)})
	}
	return nil, fmt.Errorf("cannot reduce gradient of shape %v to %v", grad.Shape, targetShape)
}

// SubOp implements the Operation interface for elementwise subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// ∂(a - b)/∂a = 1, ∂(a - b)/∂b = -1
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradientToShape(Neg(gradOut), op.inputs[1].Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// SubAutograd performs subtraction with automatic differentiation.
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Sub(a, b)
	if err != nil {
		return nil, err
	}
	Attach(result, &SubOp{inputs: []*Tensor{a, b}})
	return result, nil
}

// MulOp implements the Operation interface for elementwise multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// ∂(a * b)/∂a = b, ∂(a * b)/∂b = a
	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		return nil, err
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		return nil, err
	}

	gradBFull, err := Mul(gradOut, a)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MulAutograd performs elementwise multiplication with automatic
// differentiation. A single-element operand broadcasts.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	Attach(result, &MulOp{inputs: []*Tensor{a, b}})
	return result, nil
}

// ScaleOp implements the Operation interface for multiplication by a constant.
type ScaleOp struct {
	inputs []*Tensor
	s      float64
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

func (op *ScaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	return []*Tensor{Scale(gradOut, op.s)}, nil
}

// ScaleAutograd performs constant scaling with automatic differentiation.
func ScaleAutograd(t *Tensor, s float64) *Tensor {
	result := Scale(t, s)
	Attach(result, &ScaleOp{inputs: []*Tensor{t}, s: s})
	return result
}

// ExpOp implements the Operation interface for the elementwise exponential.
type ExpOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *ExpOp) Inputs() []*Tensor { return op.inputs }

func (op *ExpOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// ∂exp(x)/∂x = exp(x)
	grad, err := Mul(gradOut, op.output)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// ExpAutograd performs the elementwise exponential with automatic
// differentiation.
func ExpAutograd(t *Tensor) *Tensor {
	result := Exp(t)
	Attach(result, &ExpOp{inputs: []*Tensor{t}, output: result})
	return result
}

// DotOp implements the Operation interface for the inner product. The output
// is a single-element tensor.
type DotOp struct {
	inputs []*Tensor
}

func (op *DotOp) Inputs() []*Tensor { return op.inputs }

func (op *DotOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]
	s := gradOut.Data[0]
	return []*Tensor{Scale(b, s), Scale(a, s)}, nil
}

// DotAutograd computes the inner product with automatic differentiation.
func DotAutograd(a, b *Tensor) (*Tensor, error) {
	v, err := Dot(a, b)
	if err != nil {
		return nil, err
	}
	result := FromScalar(v)
	Attach(result, &DotOp{inputs: []*Tensor{a, b}})
	return result, nil
}

// SumOp implements the Operation interface for full reduction to a scalar.
type SumOp struct {
	inputs []*Tensor
}

func (op *SumOp) Inputs() []*Tensor { return op.inputs }

func (op *SumOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Full(op.inputs[0].Shape, gradOut.Data[0])
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// SumAutograd computes the scalar sum of all elements with automatic
// differentiation.
func SumAutograd(t *Tensor) *Tensor {
	result := FromScalar(Sum(t))
	Attach(result, &SumOp{inputs: []*Tensor{t}})
	return result
}

// Backward runs reverse-mode differentiation from a single-element root,
// accumulating gradients into every tensor on the tape that requires them.
func Backward(root *Tensor) error {
	if root.NumElems != 1 {
		return fmt.Errorf("backward requires a single-element root, got shape %v", root.Shape)
	}

	// Topological order over the creator graph, outputs before inputs.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] || t.creator == nil {
			return
		}
		visited[t] = true
		for _, in := range t.creator.Inputs() {
			visit(in)
		}
		order = append(order, t)
	}
	visit(root)

	grads := make(map[*Tensor]*Tensor)
	grads[root] = FromScalar(1.0)

	for i := len(order) - 1; i >= 0; i-- {
		t := order[i]
		g, ok := grads[t]
		if !ok {
			continue
		}
		inGrads, err := t.creator.Backward(g)
		if err != nil {
			return fmt.Errorf("backward through %T: %w", t.creator, err)
		}
		ins := t.creator.Inputs()
		if len(inGrads) != len(ins) {
			return fmt.Errorf("backward through %T returned %d gradients for %d inputs", t.creator, len(inGrads), len(ins))
		}
		for j, in := range ins {
			if inGrads[j] == nil {
				continue
			}
			if acc, ok := grads[in]; ok {
				if err := AddScaled(acc, 1.0, inGrads[j]); err != nil {
					return err
				}
			} else {
				grads[in] = inGrads[j].Clone()
			}
		}
	}

	// Publish accumulated gradients onto leaf tensors that asked for them.
	for t, g := range grads {
		if t.requiresGrad {
			if t.grad == nil {
				t.grad = g.Clone()
			} else {
				if err := AddScaled(t.grad, 1.0, g); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

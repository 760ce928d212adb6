package meta

import (
	"fmt"

	"github.com/tlanc/masklearn/hyperparam"
	"github.com/tlanc/masklearn/operator"
	"github.com/tlanc/masklearn/tensor"
)

// WeightMode selects how the hyperparameter enters the likelihood weighting.
// The two conventions are mutually exclusive per run and validated at
// configuration time.
type WeightMode int

const (
	// WeightDirect uses c itself as the measurement weight.
	WeightDirect WeightMode = iota
	// WeightExp uses exp(c), keeping the effective weight positive for any
	// real-valued c. Gradients chain through the exponential.
	WeightExp
)

func (m WeightMode) String() string {
	switch m {
	case WeightDirect:
		return "direct"
	case WeightExp:
		return "exp"
	default:
		return "unknown"
	}
}

// ParseWeightMode converts a configuration string to a WeightMode.
func ParseWeightMode(s string) (WeightMode, error) {
	switch s {
	case "", "direct":
		return WeightDirect, nil
	case "exp":
		return WeightExp, nil
	default:
		return 0, fmt.Errorf("unsupported weight mode %q", s)
	}
}

// Likelihood is the inner data-fidelity objective
//
//	L(c, x) = (s/2) · Σ w(c) ⊙ |Ax − y|²
//
// whose stationarity ties the reconstruction to the hyperparameter. It
// evaluates the weight grid w(c), the loss, and the image-space gradient
// u = s · Aᵀ(w(c) ⊙ (Ax − y)), with both an explicit gradient path and a
// tape-based one.
type Likelihood struct {
	A        operator.Operator
	Mode     WeightMode
	Pattern  hyperparam.Pattern
	Scale    float64 // fixed likelihood scale s, 1 when zero
	Autograd bool    // evaluate ImageGrad through the tape
}

func (l *Likelihood) scale() float64 {
	if l.Scale == 0 {
		return 1
	}
	return l.Scale
}

// WeightGrid evaluates the spatial weight grid w(c) [H, W] for a flat
// hyperparameter vector, applying the weight mode. No tape is recorded.
func (l *Likelihood) WeightGrid(c *tensor.Tensor) (*tensor.Tensor, error) {
	v := c
	if l.Mode == WeightExp {
		v = tensor.Exp(c)
	}
	h, w := l.A.ImageShape()
	return hyperparam.SpreadGrid(v, l.Pattern, h, w)
}

// Loss evaluates the weighted data fidelity for a batch.
func (l *Likelihood) Loss(c, x, y *tensor.Tensor) (float64, error) {
	grid, err := l.WeightGrid(c)
	if err != nil {
		return 0, err
	}
	ax, err := l.A.Forward(x, false)
	if err != nil {
		return 0, err
	}
	resid, err := tensor.Sub(ax, y)
	if err != nil {
		return 0, err
	}
	weighted := resid.Clone()
	weightInPlace(weighted, grid)
	q, err := tensor.Dot(resid, weighted)
	if err != nil {
		return 0, err
	}
	return l.scale() / 2 * q, nil
}

// ImageGrad computes u = s · Aᵀ(w(c) ⊙ (Ax − y)), the gradient of the
// likelihood with respect to the image.
func (l *Likelihood) ImageGrad(c, x, y *tensor.Tensor) (*tensor.Tensor, error) {
	if l.Autograd {
		return l.imageGradTape(c, x, y)
	}
	grid, err := l.WeightGrid(c)
	if err != nil {
		return nil, err
	}
	ax, err := l.A.Forward(x, false)
	if err != nil {
		return nil, err
	}
	resid, err := tensor.Sub(ax, y)
	if err != nil {
		return nil, err
	}
	weightInPlace(resid, grid)
	u, err := l.A.Adjoint(resid)
	if err != nil {
		return nil, err
	}
	return tensor.Scale(u, l.scale()), nil
}

// imageGradTape evaluates the same gradient by recording the loss on the
// autograd tape and differentiating from its scalar root.
func (l *Likelihood) imageGradTape(c, x, y *tensor.Tensor) (*tensor.Tensor, error) {
	grid, err := l.WeightGrid(c)
	if err != nil {
		return nil, err
	}
	leaf := x.Clone()
	leaf.SetRequiresGrad(true)
	ax, err := ForwardAutograd(l.A, leaf)
	if err != nil {
		return nil, err
	}
	resid, err := tensor.SubAutograd(ax, y)
	if err != nil {
		return nil, err
	}
	weighted, err := GridMulAutograd(resid, grid)
	if err != nil {
		return nil, err
	}
	q, err := tensor.DotAutograd(resid, weighted)
	if err != nil {
		return nil, err
	}
	loss := tensor.ScaleAutograd(q, l.scale()/2)
	if err := tensor.Backward(loss); err != nil {
		return nil, err
	}
	if leaf.Grad() == nil {
		return nil, fmt.Errorf("likelihood gradient did not reach the image")
	}
	return leaf.Grad(), nil
}

// forwardOp records an operator forward pass on the tape; its backward is the
// adjoint. Noise is never injected on this path.
type forwardOp struct {
	a      operator.Operator
	inputs []*tensor.Tensor
}

func (op *forwardOp) Inputs() []*tensor.Tensor { return op.inputs }

func (op *forwardOp) Backward(gradOut *tensor.Tensor) ([]*tensor.Tensor, error) {
	g, err := op.a.Adjoint(gradOut)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{g}, nil
}

// ForwardAutograd applies the operator's forward map with automatic
// differentiation.
func ForwardAutograd(a operator.Operator, x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := a.Forward(x, false)
	if err != nil {
		return nil, err
	}
	tensor.Attach(y, &forwardOp{a: a, inputs: []*tensor.Tensor{x}})
	return y, nil
}

// gridMulOp multiplies a measurement tensor by a fixed spatial grid. The
// weighting is diagonal, so the backward pass is the same multiplication.
type gridMulOp struct {
	inputs []*tensor.Tensor
	grid   *tensor.Tensor
}

func (op *gridMulOp) Inputs() []*tensor.Tensor { return op.inputs }

func (op *gridMulOp) Backward(gradOut *tensor.Tensor) ([]*tensor.Tensor, error) {
	g := gradOut.Clone()
	weightInPlace(g, op.grid)
	return []*tensor.Tensor{g}, nil
}

// GridMulAutograd weights measurements [N, C, H, W, 2] by an [H, W] grid with
// automatic differentiation through the measurements. The grid is constant on
// the tape.
func GridMulAutograd(meas, grid *tensor.Tensor) (*tensor.Tensor, error) {
	h, w := grid.Shape[0], grid.Shape[1]
	if meas.NumElems%(h*w*2) != 0 {
		return nil, fmt.Errorf("measurement size %d is not a multiple of the %dx%d grid", meas.NumElems, h, w)
	}
	out := meas.Clone()
	weightInPlace(out, grid)
	tensor.Attach(out, &gridMulOp{inputs: []*tensor.Tensor{meas}, grid: grid})
	return out, nil
}

// weightInPlace multiplies a measurement tensor [N, C, H, W, 2] by an [H, W]
// grid, scaling real and imaginary parts alike.
func weightInPlace(meas, grid *tensor.Tensor) {
	h, w := grid.Shape[0], grid.Shape[1]
	per := h * w * 2
	blocks := meas.NumElems / per
	for b := 0; b < blocks; b++ {
		base := b * per
		for i := 0; i < h*w; i++ {
			g := grid.Data[i]
			meas.Data[base+2*i] *= g
			meas.Data[base+2*i+1] *= g
		}
	}
}

package meta

import (
	"fmt"

	"github.com/tlanc/masklearn/hyperparam"
	"github.com/tlanc/masklearn/tensor"
)

// HVP computes the mixed second derivative of the likelihood applied to a
// direction: ∇_c ⟨u(c), v⟩ where u(c) = s · Aᵀ(w(c) ⊙ r) is the likelihood's
// image gradient at a fixed residual r = Ax̂ − y. Since the weighting is
// diagonal, ⟨Aᵀ(w ⊙ r), v⟩ = ⟨w ⊙ r, Av⟩, so the tape only needs to span the
// weight evaluation and a dot product; the operator itself is applied once,
// outside the tape. No sign is applied here; the engine negates the result.
func HVP(l *Likelihood, c, resid, v *tensor.Tensor) (*tensor.Tensor, error) {
	av, err := l.A.Forward(v, false)
	if err != nil {
		return nil, err
	}
	if !tensor.ShapesEqual(av.Shape, resid.Shape) {
		return nil, fmt.Errorf("hvp: residual shape %v does not match direction measurement shape %v", resid.Shape, av.Shape)
	}

	h, w := l.A.ImageShape()
	reduced, err := reduceToGrid(resid, av, h, w)
	if err != nil {
		return nil, err
	}

	leaf := c.Clone()
	leaf.SetRequiresGrad(true)
	vals := leaf
	if l.Mode == WeightExp {
		vals = tensor.ExpAutograd(leaf)
	}
	grid, err := hyperparam.SpreadAutograd(vals, l.Pattern, h, w)
	if err != nil {
		return nil, err
	}
	dot, err := tensor.DotAutograd(grid, reduced)
	if err != nil {
		return nil, err
	}
	root := tensor.ScaleAutograd(dot, l.scale())
	if err := tensor.Backward(root); err != nil {
		return nil, err
	}
	if leaf.Grad() == nil {
		return nil, fmt.Errorf("hvp gradient did not reach the hyperparameter")
	}
	return leaf.Grad(), nil
}

// reduceToGrid contracts two measurement tensors [N, C, H, W, 2] over the
// batch, coil and complex axes, leaving the per-position products on an
// [H, W] grid: out[h,w] = Σ_{n,c,ri} a[n,c,h,w,ri] · b[n,c,h,w,ri].
func reduceToGrid(a, b *tensor.Tensor, h, w int) (*tensor.Tensor, error) {
	per := h * w * 2
	if a.NumElems%per != 0 {
		return nil, fmt.Errorf("measurement size %d is not a multiple of the %dx%d grid", a.NumElems, h, w)
	}
	out, err := tensor.Zeros([]int{h, w})
	if err != nil {
		return nil, err
	}
	blocks := a.NumElems / per
	for blk := 0; blk < blocks; blk++ {
		base := blk * per
		for i := 0; i < h*w; i++ {
			out.Data[i] += a.Data[base+2*i]*b.Data[base+2*i] + a.Data[base+2*i+1]*b.Data[base+2*i+1]
		}
	}
	return out, nil
}

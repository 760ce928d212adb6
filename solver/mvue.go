package solver

import (
	"github.com/tlanc/masklearn/operator"
	"github.com/tlanc/masklearn/tensor"
)

// MVUE is the zero-iteration baseline estimator: it returns the adjoint of
// the measurements directly. Installed weights are tracked for consistency
// checks but play no role in the estimate.
type MVUE struct {
	paramState
	a operator.Operator
}

// NewMVUE creates the adjoint estimator.
func NewMVUE(a operator.Operator) *MVUE {
	return &MVUE{a: a}
}

// Reconstruct ignores xInit and computes the unweighted adjoint of y.
func (m *MVUE) Reconstruct(_, y *tensor.Tensor) (*tensor.Tensor, error) {
	return m.a.Adjoint(y)
}

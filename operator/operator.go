package operator

import (
	"fmt"

	"github.com/tlanc/masklearn/tensor"
)

// ShapeMismatchError reports a disagreement between the shapes of per-batch
// side data and the images they are applied to. It aborts the current batch
// and is never retried.
type ShapeMismatchError struct {
	Context string
	Want    []int
	Got     []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: want %v, got %v", e.Context, e.Want, e.Got)
}

// NoiseType selects the additive measurement-noise model.
type NoiseType int

const (
	// NoiseWhite is i.i.d. Gaussian noise with a fixed standard deviation.
	NoiseWhite NoiseType = iota
	// NoiseNonwhite scales white noise by a per-measurement variance profile
	// drawn once at operator construction.
	NoiseNonwhite
)

func (n NoiseType) String() string {
	switch n {
	case NoiseWhite:
		return "gaussian"
	case NoiseNonwhite:
		return "gaussian_nonwhite"
	default:
		return "unknown"
	}
}

// ParseNoiseType converts a configuration string to a NoiseType.
func ParseNoiseType(s string) (NoiseType, error) {
	switch s {
	case "gaussian":
		return NoiseWhite, nil
	case "gaussian_nonwhite":
		return NoiseNonwhite, nil
	default:
		return 0, fmt.Errorf("unsupported noise type %q", s)
	}
}

// NoiseConfig describes additive measurement noise. Noise is injected only
// when a forward call is generating observation targets, never when a loss
// gradient is being evaluated.
type NoiseConfig struct {
	Enabled bool
	Type    NoiseType
	Std     float64
}

// Operator maps candidate images to measurements and back. Images are
// [N, H, W, 2] tensors (trailing real/imaginary axis); measurements are
// [N, C, H, W, 2] with C the coil count (1 when no coil maps are set).
//
// The stored weight grid is the published view of the outer loop's
// hyperparameter; it is replaced wholesale via SetWeights and must never be
// mutated through any query path.
type Operator interface {
	// Forward maps images to measurements. addNoise marks target generation
	// and is the only path on which noise is injected.
	Forward(x *tensor.Tensor, addNoise bool) (*tensor.Tensor, error)

	// Adjoint maps measurements back to image space.
	Adjoint(y *tensor.Tensor) (*tensor.Tensor, error)

	// SetCoilMaps installs per-batch coil sensitivity maps [N, C, H, W, 2].
	// The maps are borrowed for the following Forward/Adjoint calls only and
	// are overwritten on the next batch. Pass nil for single-coil data.
	SetCoilMaps(maps *tensor.Tensor)

	// SetWeights publishes a new hyperparameter grid [H, W].
	SetWeights(w *tensor.Tensor)

	// Weights returns the currently published grid.
	Weights() *tensor.Tensor

	// MeasurementImages renders named diagnostic images for a batch. A
	// non-nil override grid is used in place of the stored weights without
	// mutating them.
	MeasurementImages(x *tensor.Tensor, override *tensor.Tensor) (map[string]*tensor.Tensor, error)

	// ImageShape returns the spatial grid size.
	ImageShape() (h, w int)
}

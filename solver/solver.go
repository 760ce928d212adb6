package solver

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/tlanc/masklearn/operator"
	"github.com/tlanc/masklearn/tensor"
)

// Solver is the inner reconstruction algorithm consumed as a black box by the
// outer loop. SetParameter must be called before the next Reconstruct
// whenever the hyperparameter changed; it is idempotent, and the generation
// it was last synced to is observable so the outer loop can prove freshness
// before every reconstruction.
type Solver interface {
	// SetParameter installs a copy of the current measurement-weight grid
	// [H, W] published at the given generation. Re-publishing the same
	// generation is a no-op.
	SetParameter(weights *tensor.Tensor, generation uint64)

	// Generation returns the generation of the last installed parameter, 0
	// if none was ever installed.
	Generation() uint64

	// Reconstruct produces an image estimate from an initial iterate and
	// measurements.
	Reconstruct(xInit, y *tensor.Tensor) (*tensor.Tensor, error)
}

// New creates a solver by configuration kind.
func New(kind string, a operator.Operator, cfg Config, logger *log.Logger) (Solver, error) {
	switch kind {
	case "langevin":
		return NewLangevin(a, cfg, logger), nil
	case "wavelet":
		return NewWavelet(a, cfg, logger), nil
	case "mvue":
		return NewMVUE(a), nil
	default:
		return nil, fmt.Errorf("unsupported solver kind %q", kind)
	}
}

// Config carries the tuning knobs shared by the iterative solver variants.
type Config struct {
	Steps      int     // iterations (per noise level for langevin)
	StepSize   float64 // gradient step size
	Levels     int     // langevin noise levels
	SigmaStart float64 // langevin initial noise scale
	SigmaEnd   float64 // langevin final noise scale
	Lambda     float64 // wavelet sparsity weight
	Seed       int64
}

// DefaultConfig returns solver settings that are stable on unit-scale data.
func DefaultConfig() Config {
	return Config{
		Steps:      30,
		StepSize:   0.5,
		Levels:     5,
		SigmaStart: 0.5,
		SigmaEnd:   0.01,
		Lambda:     1e-3,
		Seed:       1,
	}
}

// paramState implements the shared SetParameter/Generation bookkeeping. The
// installed grid is always a private copy so the writer's later mutations
// cannot be observed mid-iteration.
type paramState struct {
	weights *tensor.Tensor
	gen     uint64
}

func (p *paramState) SetParameter(weights *tensor.Tensor, generation uint64) {
	if p.weights != nil && generation == p.gen {
		return
	}
	p.weights = weights.Clone()
	p.gen = generation
}

func (p *paramState) Generation() uint64 { return p.gen }

// weightedGrad computes the image-space gradient of the weighted data
// fidelity, Aᵀ(w ⊙ (Ax − y)), against the solver's installed weight copy.
func (p *paramState) weightedGrad(a operator.Operator, x, y *tensor.Tensor) (*tensor.Tensor, error) {
	if p.weights == nil {
		return nil, fmt.Errorf("solver parameter was never set")
	}
	ax, err := a.Forward(x, false)
	if err != nil {
		return nil, err
	}
	resid, err := tensor.Sub(ax, y)
	if err != nil {
		return nil, err
	}
	applyWeightGrid(resid, p.weights)
	return a.Adjoint(resid)
}

// applyWeightGrid multiplies a measurement tensor [N, C, H, W, 2] by an
// [H, W] grid, weighting real and imaginary parts alike.
func applyWeightGrid(meas, grid *tensor.Tensor) {
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

package hyperparam

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tlanc/masklearn/tensor"
)

// Probabilistic is a relaxed-Bernoulli sampling policy over binary selection
// decisions. It owns learnable logits over the free positions of the pattern
// domain plus fixed index sets: always-kept positions (the calibration
// region) are forced to one and excluded positions forced to zero; neither
// receives gradient.
type Probabilistic struct {
	pattern Pattern
	h, w    int
	logits  *tensor.Tensor
	fixed   []maskState // per-position; FreePos entries are trainable
	gen     uint64
}

type maskState int8

const (
	freePos maskState = iota
	keptPos
	excludedPos
)

// NewProbabilistic creates a probabilistic mask with all logits set to init.
// keep and exclude are index sets into the flat pattern domain; overlapping
// sets are rejected.
func NewProbabilistic(pattern Pattern, h, w int, init float64, keep, exclude []int) (*Probabilistic, error) {
	if pattern == Isotropic {
		return nil, fmt.Errorf("probabilistic masks need a positional pattern, not isotropic")
	}
	n, err := pattern.Len(h, w)
	if err != nil {
		return nil, err
	}
	logits, err := tensor.Full([]int{n}, init)
	if err != nil {
		return nil, err
	}
	fixed := make([]maskState, n)
	for _, i := range keep {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("keep index %d out of range [0, %d)", i, n)
		}
		fixed[i] = keptPos
	}
	for _, i := range exclude {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("exclude index %d out of range [0, %d)", i, n)
		}
		if fixed[i] == keptPos {
			return nil, fmt.Errorf("index %d is both kept and excluded", i)
		}
		fixed[i] = excludedPos
	}
	return &Probabilistic{pattern: pattern, h: h, w: w, logits: logits, fixed: fixed, gen: 1}, nil
}

func (p *Probabilistic) Pattern() Pattern { return p.pattern }

// Len returns the number of logit positions (free and fixed).
func (p *Probabilistic) Len() int { return p.logits.NumElems }

// Flat returns the live logits vector for in-place optimization; Bump must
// follow any mutation.
func (p *Probabilistic) Flat() []float64 { return p.logits.Data }

// Values returns the logits tensor.
func (p *Probabilistic) Values() *tensor.Tensor { return p.logits }

// Clone returns a detached copy of the logits.
func (p *Probabilistic) Clone() *tensor.Tensor { return p.logits.Clone() }

// Restore overwrites the logits and advances the generation.
func (p *Probabilistic) Restore(v *tensor.Tensor) error {
	if v.NumElems != p.logits.NumElems {
		return fmt.Errorf("restore: length %d does not match logits length %d", v.NumElems, p.logits.NumElems)
	}
	copy(p.logits.Data, v.Data)
	p.Bump()
	return nil
}

// Generation returns the current publish generation.
func (p *Probabilistic) Generation() uint64 { return p.gen }

// Bump advances the publish generation after an in-place mutation.
func (p *Probabilistic) Bump() { p.gen++ }

// MaskSample is one relaxed-Bernoulli draw together with the local derivative
// of each mask entry with respect to its logit, used to chain a hypergradient
// computed in mask space back to the logits.
type MaskSample struct {
	Mask   *tensor.Tensor // flat over the pattern domain, entries in [0, 1]
	dLogit []float64      // ∂mask_i/∂logit_i; zero on fixed positions
}

// SampleMask draws a relaxed-Bernoulli mask at the given temperature. Fixed
// positions are forced (kept = 1, excluded = 0) and carry no gradient. The
// draw is what the inner solver actually reconstructs against, so the outer
// gradient reflects the sampling policy rather than a smoothed proxy.
func (p *Probabilistic) SampleMask(temperature float64, rng *rand.Rand) (*MaskSample, error) {
	if temperature <= 0 {
		return nil, fmt.Errorf("temperature must be positive, got %g", temperature)
	}
	n := p.logits.NumElems
	mask, err := tensor.Zeros([]int{n})
	if err != nil {
		return nil, err
	}
	dLogit := make([]float64, n)
	for i := 0; i < n; i++ {
		switch p.fixed[i] {
		case keptPos:
			mask.Data[i] = 1
		case excludedPos:
			mask.Data[i] = 0
		default:
			u := rng.Float64()
			for u == 0 {
				u = rng.Float64()
			}
			logistic := math.Log(u) - math.Log1p(-u)
			z := sigmoid((p.logits.Data[i] + logistic) / temperature)
			mask.Data[i] = z
			dLogit[i] = z * (1 - z) / temperature
		}
	}
	return &MaskSample{Mask: mask, dLogit: dLogit}, nil
}

// ExpectedMask returns the sigmoid of the logits with fixed positions forced.
// It is a monitoring view only; reconstruction gradients never flow through
// it.
func (p *Probabilistic) ExpectedMask() *tensor.Tensor {
	out := tensor.Sigmoid(p.logits)
	p.force(out)
	return out
}

// MostLikelyMask thresholds the logits at zero with fixed positions forced.
func (p *Probabilistic) MostLikelyMask() *tensor.Tensor {
	out := p.logits.Clone()
	for i, v := range out.Data {
		if v > 0 {
			out.Data[i] = 1
		} else {
			out.Data[i] = 0
		}
	}
	p.force(out)
	return out
}

// ChainGrad maps a gradient with respect to the sampled mask back to a
// gradient with respect to the logits.
func (p *Probabilistic) ChainGrad(maskGrad *tensor.Tensor, sample *MaskSample) (*tensor.Tensor, error) {
	if maskGrad.NumElems != p.logits.NumElems {
		return nil, fmt.Errorf("mask gradient length %d does not match logits length %d", maskGrad.NumElems, p.logits.NumElems)
	}
	out, err := tensor.Zeros([]int{p.logits.NumElems})
	if err != nil {
		return nil, err
	}
	for i := range out.Data {
		out.Data[i] = maskGrad.Data[i] * sample.dLogit[i]
	}
	return out, nil
}

func (p *Probabilistic) force(mask *tensor.Tensor) {
	for i, st := range p.fixed {
		switch st {
		case keptPos:
			mask.Data[i] = 1
		case excludedPos:
			mask.Data[i] = 0
		}
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// CenterIndices returns the index range of a centered calibration region of
// the given width in a domain of length n, as [lo, hi).
func CenterIndices(n, width int) (lo, hi int) {
	lo = (n - width) / 2
	hi = lo + width
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	return lo, hi
}

// CenterRange materializes CenterIndices as an explicit index slice.
func CenterRange(n, width int) []int {
	lo, hi := CenterIndices(n, width)
	out := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}

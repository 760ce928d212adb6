package solver

import (
	"github.com/charmbracelet/log"

	"github.com/tlanc/masklearn/operator"
	"github.com/tlanc/masklearn/tensor"
)

// Wavelet is an ISTA-style reconstruction with a single-level Haar sparsity
// prior: gradient steps on the weighted data fidelity interleaved with soft
// thresholding of the Haar detail coefficients.
type Wavelet struct {
	paramState
	a      operator.Operator
	cfg    Config
	logger *log.Logger
}

// NewWavelet creates a wavelet-regularized solver.
func NewWavelet(a operator.Operator, cfg Config, logger *log.Logger) *Wavelet {
	return &Wavelet{a: a, cfg: cfg, logger: logger}
}

// Reconstruct runs the proximal iteration from xInit.
func (wv *Wavelet) Reconstruct(xInit, y *tensor.Tensor) (*tensor.Tensor, error) {
	x := xInit.Clone()
	h, w := wv.a.ImageShape()
	threshold := wv.cfg.Lambda * wv.cfg.StepSize

	for step := 0; step < wv.cfg.Steps; step++ {
		grad, err := wv.weightedGrad(wv.a, x, y)
		if err != nil {
			return nil, err
		}
		if err := tensor.AddScaled(x, -wv.cfg.StepSize, grad); err != nil {
			return nil, err
		}
		shrinkHaarDetails(x, h, w, threshold)
	}

	if wv.logger != nil {
		wv.logger.Debug("wavelet solve done", "steps", wv.cfg.Steps, "threshold", threshold)
	}
	return x, nil
}

// shrinkHaarDetails applies a single-level 2-D Haar transform to each sample
// and channel of x [N, H, W, 2], soft-thresholds the detail bands, and
// inverts the transform. H and W must be even; odd extents are left as-is.
func shrinkHaarDetails(x *tensor.Tensor, h, w int, threshold float64) {
	if h%2 != 0 || w%2 != 0 {
		return
	}
	n := x.Shape[0]
	plane := make([]float64, h*w)
	for s := 0; s < n; s++ {
		for ch := 0; ch < 2; ch++ {
			for i := 0; i < h*w; i++ {
				plane[i] = x.Data[(s*h*w+i)*2+ch]
			}
			haarShrink(plane, h, w, threshold)
			for i := 0; i < h*w; i++ {
				x.Data[(s*h*w+i)*2+ch] = plane[i]
			}
		}
	}
}

// haarShrink transforms one plane in place, shrinks the LH, HL and HH bands,
// and reconstructs. The LL approximation band is never thresholded.
func haarShrink(plane []float64, h, w int, threshold float64) {
	hh := h / 2
	hw := w / 2
	ll := make([]float64, hh*hw)
	lh := make([]float64, hh*hw)
	hl := make([]float64, hh*hw)
	hd := make([]float64, hh*hw)

	for i := 0; i < hh; i++ {
		for j := 0; j < hw; j++ {
			a := plane[(2*i)*w+2*j]
			b := plane[(2*i)*w+2*j+1]
			c := plane[(2*i+1)*w+2*j]
			d := plane[(2*i+1)*w+2*j+1]
			k := i*hw + j
			ll[k] = (a + b + c + d) / 2
			lh[k] = (a - b + c - d) / 2
			hl[k] = (a + b - c - d) / 2
			hd[k] = (a - b - c + d) / 2
		}
	}

	for k := range lh {
		lh[k] = softShrink(lh[k], threshold)
		hl[k] = softShrink(hl[k], threshold)
		hd[k] = softShrink(hd[k], threshold)
	}

	for i := 0; i < hh; i++ {
		for j := 0; j < hw; j++ {
			k := i*hw + j
			plane[(2*i)*w+2*j] = (ll[k] + lh[k] + hl[k] + hd[k]) / 2
			plane[(2*i)*w+2*j+1] = (ll[k] - lh[k] + hl[k] - hd[k]) / 2
			plane[(2*i+1)*w+2*j] = (ll[k] + lh[k] - hl[k] - hd[k]) / 2
			plane[(2*i+1)*w+2*j+1] = (ll[k] - lh[k] - hl[k] + hd[k]) / 2
		}
	}
}

func softShrink(v, threshold float64) float64 {
	if v > threshold {
		return v - threshold
	}
	if v < -threshold {
		return v + threshold
	}
	return 0
}

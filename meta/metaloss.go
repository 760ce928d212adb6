package meta

import (
	"math"

	"github.com/tlanc/masklearn/tensor"
)

// ROI is an optional rectangular region of interest. When set, everything
// outside the window contributes neither loss nor gradient.
type ROI struct {
	Top    int `yaml:"top"`
	Left   int `yaml:"left"`
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
}

func (r *ROI) contains(row, col int) bool {
	return row >= r.Top && row < r.Top+r.Height && col >= r.Left && col < r.Left+r.Width
}

// MetaGrad computes the gradient of the outer L2 loss with respect to the
// reconstruction, g = x_hat − x_true, zeroed outside the ROI when one is set.
func MetaGrad(xHat, xTrue *tensor.Tensor, roi *ROI) (*tensor.Tensor, error) {
	g, err := tensor.Sub(xHat, xTrue)
	if err != nil {
		return nil, err
	}
	if roi != nil {
		maskROI(g, roi)
	}
	return g, nil
}

// MetaLoss evaluates the outer L2 loss, 0.5 · Σ (x_hat − x_true)², restricted
// to the ROI when one is set.
func MetaLoss(xHat, xTrue *tensor.Tensor, roi *ROI) (float64, error) {
	g, err := MetaGrad(xHat, xTrue, roi)
	if err != nil {
		return 0, err
	}
	return 0.5 * tensor.SumSquares(g), nil
}

// maskROI zeroes an image batch [N, H, W, 2] outside the window.
func maskROI(g *tensor.Tensor, roi *ROI) {
	n, h, w := g.Shape[0], g.Shape[1], g.Shape[2]
	for s := 0; s < n; s++ {
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				if roi.contains(row, col) {
					continue
				}
				base := ((s*h+row)*w + col) * 2
				g.Data[base] = 0
				g.Data[base+1] = 0
			}
		}
	}
}

// Regularizer is the explicit hyperparameter penalty added to the outer
// objective. Only the L1 term is supported; its subgradient is analytic and
// never goes through the tape.
type Regularizer struct {
	L1Scale float64
}

// Grad returns sign(c) · scale per entry, or nil when the penalty is off.
func (r *Regularizer) Grad(c []float64) []float64 {
	if r == nil || r.L1Scale == 0 {
		return nil
	}
	out := make([]float64, len(c))
	for i, v := range c {
		switch {
		case v > 0:
			out[i] = r.L1Scale
		case v < 0:
			out[i] = -r.L1Scale
		}
	}
	return out
}

// Penalty returns the L1 penalty value, scale · Σ |c_i|.
func (r *Regularizer) Penalty(c []float64) float64 {
	if r == nil || r.L1Scale == 0 {
		return 0
	}
	s := 0.0
	for _, v := range c {
		s += math.Abs(v)
	}
	return r.L1Scale * s
}

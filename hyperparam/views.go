package hyperparam

import (
	"math"

	"github.com/tlanc/masklearn/tensor"
)

// MaskViews renders diagnostic views of a hyperparameter grid, each scaled to
// [0, 1]: "signed" maps min..max linearly, "magnitude" maps |v|/max|v|, and
// "binary" marks nonzero entries.
func MaskViews(grid *tensor.Tensor) map[string]*tensor.Tensor {
	signed := grid.Clone()
	min, max := math.Inf(1), math.Inf(-1)
	absMax := 0.0
	for _, v := range grid.Data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		if a := math.Abs(v); a > absMax {
			absMax = a
		}
	}
	span := max - min
	for i, v := range grid.Data {
		if span > 0 {
			signed.Data[i] = (v - min) / span
		} else {
			signed.Data[i] = 0
		}
	}

	magnitude := grid.Clone()
	for i, v := range grid.Data {
		if absMax > 0 {
			magnitude.Data[i] = math.Abs(v) / absMax
		} else {
			magnitude.Data[i] = 0
		}
	}

	binary := grid.Clone()
	for i, v := range grid.Data {
		if v != 0 {
			binary.Data[i] = 1
		} else {
			binary.Data[i] = 0
		}
	}

	return map[string]*tensor.Tensor{
		"signed":    signed,
		"magnitude": magnitude,
		"binary":    binary,
	}
}

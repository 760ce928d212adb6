package metrics

import (
	"math"

	"github.com/tlanc/masklearn/tensor"
)

// PSNR computes the peak signal-to-noise ratio per sample of a complex image
// batch [N, H, W, 2], over pixel magnitudes with the reference's peak
// magnitude as the signal ceiling. A perfect reconstruction yields +Inf.
func PSNR(xHat, x *tensor.Tensor) []float64 {
	n := x.Shape[0]
	per := x.NumElems / n
	pixels := per / 2
	out := make([]float64, n)
	for s := 0; s < n; s++ {
		base := s * per
		peak := 0.0
		mse := 0.0
		for i := 0; i < pixels; i++ {
			mr := mag(x.Data[base+2*i], x.Data[base+2*i+1])
			mh := mag(xHat.Data[base+2*i], xHat.Data[base+2*i+1])
			if mr > peak {
				peak = mr
			}
			d := mh - mr
			mse += d * d
		}
		mse /= float64(pixels)
		if mse == 0 {
			out[s] = math.Inf(1)
			continue
		}
		out[s] = 10 * math.Log10(peak*peak/mse)
	}
	return out
}

// NMSE computes the normalized mean squared error per sample,
// ‖x̂ − x‖² / ‖x‖² over the raw complex entries.
func NMSE(xHat, x *tensor.Tensor) []float64 {
	n := x.Shape[0]
	per := x.NumElems / n
	out := make([]float64, n)
	for s := 0; s < n; s++ {
		base := s * per
		num, den := 0.0, 0.0
		for i := 0; i < per; i++ {
			d := xHat.Data[base+i] - x.Data[base+i]
			num += d * d
			den += x.Data[base+i] * x.Data[base+i]
		}
		if den == 0 {
			out[s] = math.Inf(1)
			continue
		}
		out[s] = num / den
	}
	return out
}

func mag(re, im float64) float64 {
	return math.Hypot(re, im)
}

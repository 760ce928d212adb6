package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tlanc/masklearn/tensor"
)

// Sample is one ground-truth image with its per-sample side data. Images are
// [H, W, 2] complex tensors; coil maps, when present, are [C, H, W, 2].
type Sample struct {
	Image    *tensor.Tensor
	CoilMaps *tensor.Tensor
	Scale    float64
}

// Dataset yields ready-to-use samples by index. File parsing and partitioning
// live behind this interface, outside the optimization core.
type Dataset interface {
	Len() int
	Get(idx int) (*Sample, error)
}

// Synthetic is an in-memory dataset of smooth random complex images with
// normalized coil sensitivity maps, used by tests and the demo path.
type Synthetic struct {
	samples []*Sample
}

// NewSynthetic generates n samples of size h-by-w with the given coil count
// (0 or 1 means single-coil, no maps). Generation is deterministic per seed.
func NewSynthetic(n, h, w, coils int, seed int64) (*Synthetic, error) {
	if n <= 0 || h <= 0 || w <= 0 {
		return nil, fmt.Errorf("invalid synthetic dataset size n=%d h=%d w=%d", n, h, w)
	}
	rng := rand.New(rand.NewSource(seed))
	samples := make([]*Sample, n)
	for i := range samples {
		img, err := smoothImage(h, w, rng)
		if err != nil {
			return nil, err
		}
		s := &Sample{Image: img, Scale: 1}
		if coils > 1 {
			maps, err := coilMaps(coils, h, w, rng)
			if err != nil {
				return nil, err
			}
			s.CoilMaps = maps
		}
		samples[i] = s
	}
	return &Synthetic{samples: samples}, nil
}

func (d *Synthetic) Len() int { return len(d.samples) }

func (d *Synthetic) Get(idx int) (*Sample, error) {
	if idx < 0 || idx >= len(d.samples) {
		return nil, fmt.Errorf("sample index %d out of range [0, %d)", idx, len(d.samples))
	}
	return d.samples[idx], nil
}

// smoothImage superimposes a few random Gaussian blobs so the phantom has
// spatial structure concentrated at low frequencies, like the anatomy the
// operator is meant for.
func smoothImage(h, w int, rng *rand.Rand) (*tensor.Tensor, error) {
	img, err := tensor.Zeros([]int{h, w, 2})
	if err != nil {
		return nil, err
	}
	blobs := 3 + rng.Intn(3)
	for b := 0; b < blobs; b++ {
		cy := rng.Float64() * float64(h)
		cx := rng.Float64() * float64(w)
		sigma := (0.05 + 0.15*rng.Float64()) * float64(min(h, w))
		amp := 0.5 + rng.Float64()
		phase := 2 * math.Pi * rng.Float64()
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				dy := float64(row) - cy
				dx := float64(col) - cx
				v := amp * math.Exp(-(dy*dy+dx*dx)/(2*sigma*sigma))
				base := (row*w + col) * 2
				img.Data[base] += v * math.Cos(phase)
				img.Data[base+1] += v * math.Sin(phase)
			}
		}
	}
	return img, nil
}

// coilMaps builds smooth sensitivity profiles normalized so the sum of
// squared magnitudes is one at every pixel.
func coilMaps(coils, h, w int, rng *rand.Rand) (*tensor.Tensor, error) {
	maps, err := tensor.Zeros([]int{coils, h, w, 2})
	if err != nil {
		return nil, err
	}
	for c := 0; c < coils; c++ {
		// One broad lobe per coil, centered on the image border.
		angle := 2 * math.Pi * (float64(c)/float64(coils) + 0.1*rng.Float64())
		cy := float64(h)/2 + float64(h)/2*math.Sin(angle)
		cx := float64(w)/2 + float64(w)/2*math.Cos(angle)
		sigma := 0.6 * float64(min(h, w))
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				dy := float64(row) - cy
				dx := float64(col) - cx
				v := math.Exp(-(dy*dy + dx*dx) / (2 * sigma * sigma))
				base := ((c*h+row)*w + col) * 2
				maps.Data[base] = v
			}
		}
	}
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			ss := 0.0
			for c := 0; c < coils; c++ {
				base := ((c*h+row)*w + col) * 2
				ss += maps.Data[base]*maps.Data[base] + maps.Data[base+1]*maps.Data[base+1]
			}
			norm := math.Sqrt(ss)
			if norm == 0 {
				continue
			}
			for c := 0; c < coils; c++ {
				base := ((c*h+row)*w + col) * 2
				maps.Data[base] /= norm
				maps.Data[base+1] /= norm
			}
		}
	}
	return maps, nil
}

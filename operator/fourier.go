package operator

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/tlanc/masklearn/tensor"
)

// FourierConfig configures the masked-Fourier measurement operator.
type FourierConfig struct {
	Height int
	Width  int
	Noise  NoiseConfig
	Seed   int64
}

// DefaultFourierConfig returns a configuration with noise disabled.
func DefaultFourierConfig(size int) FourierConfig {
	return FourierConfig{Height: size, Width: size}
}

// Fourier is a subsampled-Fourier (MRI k-space) operator: a centered,
// orthonormal 2-D FFT composed with coil-sensitivity weighting and a fixed
// sampling mask. The published hyperparameter grid is stored alongside but is
// never applied on the forward path; measurement weighting by the learned
// hyperparameter belongs to the likelihood, not to the acquisition model.
type Fourier struct {
	h, w    int
	mask    *tensor.Tensor // fixed sampling mask [H, W]
	weights *tensor.Tensor // published hyperparameter grid [H, W]
	maps    *tensor.Tensor // per-batch coil maps [N, C, H, W, 2], nil = single coil

	noise        NoiseConfig
	noiseProfile []float64 // per-measurement variance profile, nonwhite only
	rng          *rand.Rand

	fftRow *fourier.CmplxFFT // length W
	fftCol *fourier.CmplxFFT // length H
}

// NewFourier creates a Fourier operator with an all-ones sampling mask.
func NewFourier(cfg FourierConfig) (*Fourier, error) {
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, fmt.Errorf("invalid image shape %dx%d", cfg.Height, cfg.Width)
	}
	mask, err := tensor.Ones([]int{cfg.Height, cfg.Width})
	if err != nil {
		return nil, err
	}
	f := &Fourier{
		h:       cfg.Height,
		w:       cfg.Width,
		mask:    mask,
		weights: mask.Clone(),
		noise:   cfg.Noise,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		fftRow:  fourier.NewCmplxFFT(cfg.Width),
		fftCol:  fourier.NewCmplxFFT(cfg.Height),
	}
	if cfg.Noise.Enabled && cfg.Noise.Type == NoiseNonwhite {
		f.noiseProfile = make([]float64, cfg.Height*cfg.Width*2)
		for i := range f.noiseProfile {
			f.noiseProfile[i] = f.rng.Float64()
		}
	}
	return f, nil
}

func (f *Fourier) ImageShape() (int, int) { return f.h, f.w }

// SetMask replaces the fixed sampling mask.
func (f *Fourier) SetMask(mask *tensor.Tensor) error {
	if !tensor.ShapesEqual(mask.Shape, []int{f.h, f.w}) {
		return &ShapeMismatchError{Context: "sampling mask", Want: []int{f.h, f.w}, Got: mask.Shape}
	}
	f.mask = mask.Clone()
	return nil
}

// Mask returns the fixed sampling mask.
func (f *Fourier) Mask() *tensor.Tensor { return f.mask }

// SetWeights publishes a new hyperparameter grid. The grid is copied so later
// writes by the caller cannot silently change the operator's view.
func (f *Fourier) SetWeights(w *tensor.Tensor) {
	f.weights = w.Clone()
}

// Weights returns the published hyperparameter grid.
func (f *Fourier) Weights() *tensor.Tensor { return f.weights }

// SetCoilMaps installs per-batch coil sensitivity maps. The maps are borrowed
// until the next call; nil selects the single-coil identity.
func (f *Fourier) SetCoilMaps(maps *tensor.Tensor) {
	f.maps = maps
}

func (f *Fourier) coils() int {
	if f.maps == nil {
		return 1
	}
	return f.maps.Shape[1]
}

func (f *Fourier) checkBatch(x *tensor.Tensor) error {
	if len(x.Shape) != 4 || x.Shape[1] != f.h || x.Shape[2] != f.w || x.Shape[3] != 2 {
		return &ShapeMismatchError{Context: "image batch", Want: []int{-1, f.h, f.w, 2}, Got: x.Shape}
	}
	if f.maps != nil {
		want := []int{x.Shape[0], f.maps.Shape[1], f.h, f.w, 2}
		if len(f.maps.Shape) != 5 || !tensor.ShapesEqual(f.maps.Shape, want) {
			return &ShapeMismatchError{Context: "coil maps", Want: want, Got: f.maps.Shape}
		}
	}
	return nil
}

// Forward maps an image batch [N, H, W, 2] to measurements [N, C, H, W, 2].
// Noise is added only when addNoise marks the call as target generation.
func (f *Fourier) Forward(x *tensor.Tensor, addNoise bool) (*tensor.Tensor, error) {
	if err := f.checkBatch(x); err != nil {
		return nil, err
	}
	n, c := x.Shape[0], f.coils()
	y, err := tensor.Zeros([]int{n, c, f.h, f.w, 2})
	if err != nil {
		return nil, err
	}

	buf := make([]complex128, f.h*f.w)
	for s := 0; s < n; s++ {
		for ci := 0; ci < c; ci++ {
			f.loadCoilImage(buf, x, s, ci)
			f.cfft2(buf)
			f.applyGrid(buf, f.mask)
			storeComplex(y, buf, (s*c+ci)*f.h*f.w*2)
		}
	}

	if addNoise && f.noise.Enabled {
		f.addNoise(y)
	}
	return y, nil
}

// Adjoint maps measurements [N, C, H, W, 2] to images [N, H, W, 2], combining
// coils with conjugate sensitivity weighting.
func (f *Fourier) Adjoint(y *tensor.Tensor) (*tensor.Tensor, error) {
	if len(y.Shape) != 5 || y.Shape[2] != f.h || y.Shape[3] != f.w || y.Shape[4] != 2 {
		return nil, &ShapeMismatchError{Context: "measurement batch", Want: []int{-1, -1, f.h, f.w, 2}, Got: y.Shape}
	}
	n, c := y.Shape[0], y.Shape[1]
	if f.maps != nil {
		want := []int{n, c, f.h, f.w, 2}
		if !tensor.ShapesEqual(f.maps.Shape, want) {
			return nil, &ShapeMismatchError{Context: "coil maps", Want: want, Got: f.maps.Shape}
		}
	}

	x, err := tensor.Zeros([]int{n, f.h, f.w, 2})
	if err != nil {
		return nil, err
	}

	buf := make([]complex128, f.h*f.w)
	for s := 0; s < n; s++ {
		for ci := 0; ci < c; ci++ {
			loadComplex(buf, y, (s*c+ci)*f.h*f.w*2)
			f.applyGrid(buf, f.mask)
			f.cifft2(buf)
			f.accumulateCoilImage(x, buf, s, ci)
		}
	}
	return x, nil
}

// MeasurementImages renders magnitude, phase and zero-filled inverse images
// for a batch, each [N, H, W]. A non-nil override grid replaces the fixed
// mask for this query only.
func (f *Fourier) MeasurementImages(x *tensor.Tensor, override *tensor.Tensor) (map[string]*tensor.Tensor, error) {
	if err := f.checkBatch(x); err != nil {
		return nil, err
	}
	grid := f.mask
	if override != nil {
		if !tensor.ShapesEqual(override.Shape, []int{f.h, f.w}) {
			return nil, &ShapeMismatchError{Context: "mask override", Want: []int{f.h, f.w}, Got: override.Shape}
		}
		grid = override
	}

	n := x.Shape[0]
	mag, _ := tensor.Zeros([]int{n, f.h, f.w})
	phase, _ := tensor.Zeros([]int{n, f.h, f.w})
	inverted, _ := tensor.Zeros([]int{n, f.h, f.w})

	buf := make([]complex128, f.h*f.w)
	inv := make([]complex128, f.h*f.w)
	for s := 0; s < n; s++ {
		// Coil 0 carries the k-space view; the inverse is coil-combined.
		f.loadCoilImage(buf, x, s, 0)
		f.cfft2(buf)
		f.applyGrid(buf, grid)
		for i, v := range buf {
			mag.Data[s*f.h*f.w+i] = cmplxAbs(v)
			phase.Data[s*f.h*f.w+i] = math.Atan2(imag(v), real(v))
		}

		acc := make([]complex128, f.h*f.w)
		for ci := 0; ci < f.coils(); ci++ {
			f.loadCoilImage(inv, x, s, ci)
			f.cfft2(inv)
			f.applyGrid(inv, grid)
			f.cifft2(inv)
			f.conjCoilAccumulate(acc, inv, s, ci)
		}
		for i, v := range acc {
			inverted.Data[s*f.h*f.w+i] = cmplxAbs(v)
		}
	}
	return map[string]*tensor.Tensor{
		"mag":      mag,
		"phase":    phase,
		"inverted": inverted,
	}, nil
}

// loadCoilImage fills buf with maps[s,ci] * x[s] as complex values.
func (f *Fourier) loadCoilImage(buf []complex128, x *tensor.Tensor, s, ci int) {
	base := s * f.h * f.w * 2
	if f.maps == nil {
		for i := 0; i < f.h*f.w; i++ {
			buf[i] = complex(x.Data[base+2*i], x.Data[base+2*i+1])
		}
		return
	}
	mbase := (s*f.maps.Shape[1] + ci) * f.h * f.w * 2
	for i := 0; i < f.h*f.w; i++ {
		xv := complex(x.Data[base+2*i], x.Data[base+2*i+1])
		mv := complex(f.maps.Data[mbase+2*i], f.maps.Data[mbase+2*i+1])
		buf[i] = mv * xv
	}
}

// accumulateCoilImage adds conj(maps[s,ci]) * buf into x[s].
func (f *Fourier) accumulateCoilImage(x *tensor.Tensor, buf []complex128, s, ci int) {
	base := s * f.h * f.w * 2
	if f.maps == nil {
		for i, v := range buf {
			x.Data[base+2*i] += real(v)
			x.Data[base+2*i+1] += imag(v)
		}
		return
	}
	mbase := (s*f.maps.Shape[1] + ci) * f.h * f.w * 2
	for i, v := range buf {
		mv := complex(f.maps.Data[mbase+2*i], -f.maps.Data[mbase+2*i+1])
		pv := mv * v
		x.Data[base+2*i] += real(pv)
		x.Data[base+2*i+1] += imag(pv)
	}
}

func (f *Fourier) conjCoilAccumulate(acc, buf []complex128, s, ci int) {
	if f.maps == nil {
		for i, v := range buf {
			acc[i] += v
		}
		return
	}
	mbase := (s*f.maps.Shape[1] + ci) * f.h * f.w * 2
	for i, v := range buf {
		mv := complex(f.maps.Data[mbase+2*i], -f.maps.Data[mbase+2*i+1])
		acc[i] += mv * v
	}
}

func (f *Fourier) applyGrid(buf []complex128, grid *tensor.Tensor) {
	for i := range buf {
		buf[i] *= complex(grid.Data[i], 0)
	}
}

func (f *Fourier) addNoise(y *tensor.Tensor) {
	n, c := y.Shape[0], y.Shape[1]
	per := f.h * f.w * 2
	for s := 0; s < n; s++ {
		for ci := 0; ci < c; ci++ {
			base := (s*c + ci) * per
			for i := 0; i < per; i++ {
				e := f.rng.NormFloat64() * f.noise.Std
				if f.noise.Type == NoiseNonwhite {
					e *= f.noiseProfile[i]
				}
				y.Data[base+i] += e
			}
		}
	}
}

// cfft2 applies a centered, orthonormal 2-D FFT in place.
func (f *Fourier) cfft2(buf []complex128) {
	f.shift2(buf, f.h/2, f.w/2)
	f.fft2(buf, false)
	f.shift2(buf, (f.h+1)/2, (f.w+1)/2)
	scale := complex(1/math.Sqrt(float64(f.h*f.w)), 0)
	for i := range buf {
		buf[i] *= scale
	}
}

// cifft2 applies the centered, orthonormal inverse 2-D FFT in place.
func (f *Fourier) cifft2(buf []complex128) {
	f.shift2(buf, (f.h+1)/2, (f.w+1)/2)
	f.fft2(buf, true)
	f.shift2(buf, f.h/2, f.w/2)
	scale := complex(1/math.Sqrt(float64(f.h*f.w)), 0)
	for i := range buf {
		buf[i] *= scale
	}
}

// fft2 applies an unnormalized forward or inverse 2-D DFT in place.
func (f *Fourier) fft2(buf []complex128, inverse bool) {
	row := make([]complex128, f.w)
	rowOut := make([]complex128, f.w)
	for h := 0; h < f.h; h++ {
		copy(row, buf[h*f.w:(h+1)*f.w])
		if inverse {
			f.fftRow.Sequence(rowOut, row)
		} else {
			f.fftRow.Coefficients(rowOut, row)
		}
		copy(buf[h*f.w:(h+1)*f.w], rowOut)
	}

	col := make([]complex128, f.h)
	colOut := make([]complex128, f.h)
	for w := 0; w < f.w; w++ {
		for h := 0; h < f.h; h++ {
			col[h] = buf[h*f.w+w]
		}
		if inverse {
			f.fftCol.Sequence(colOut, col)
		} else {
			f.fftCol.Coefficients(colOut, col)
		}
		for h := 0; h < f.h; h++ {
			buf[h*f.w+w] = colOut[h]
		}
	}

	// Both directions are left unnormalized here; cfft2 and cifft2 apply the
	// orthonormal 1/sqrt(HW) factor, which makes the pair mutually inverse
	// and the forward transform unitary.
}

// shift2 rolls the grid by (dh, dw) with wraparound.
func (f *Fourier) shift2(buf []complex128, dh, dw int) {
	tmp := make([]complex128, len(buf))
	for h := 0; h < f.h; h++ {
		nh := (h + dh) % f.h
		for w := 0; w < f.w; w++ {
			nw := (w + dw) % f.w
			tmp[nh*f.w+nw] = buf[h*f.w+w]
		}
	}
	copy(buf, tmp)
}

func loadComplex(buf []complex128, t *tensor.Tensor, base int) {
	for i := range buf {
		buf[i] = complex(t.Data[base+2*i], t.Data[base+2*i+1])
	}
}

func storeComplex(t *tensor.Tensor, buf []complex128, base int) {
	for i, v := range buf {
		t.Data[base+2*i] = real(v)
		t.Data[base+2*i+1] = imag(v)
	}
}

func cmplxAbs(v complex128) float64 {
	return math.Hypot(real(v), imag(v))
}

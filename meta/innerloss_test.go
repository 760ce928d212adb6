package meta

import (
	"math"
	"math/rand"
	"testing"

	"github.com/tlanc/masklearn/hyperparam"
	"github.com/tlanc/masklearn/operator"
	"github.com/tlanc/masklearn/tensor"
)

func newTestOperator(t *testing.T, size int) *operator.Fourier {
	t.Helper()
	op, err := operator.NewFourier(operator.FourierConfig{Height: size, Width: size})
	if err != nil {
		t.Fatalf("NewFourier failed: %v", err)
	}
	return op
}

func TestParseWeightMode(t *testing.T) {
	cases := []struct {
		in   string
		want WeightMode
		ok   bool
	}{
		{"", WeightDirect, true},
		{"direct", WeightDirect, true},
		{"exp", WeightExp, true},
		{"log", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseWeightMode(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseWeightMode(%q) = %v, %v", tc.in, got, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseWeightMode(%q) accepted an unsupported mode", tc.in)
		}
	}
}

func TestWeightGrid(t *testing.T) {
	op := newTestOperator(t, 4)
	c, _ := tensor.New([]int{4}, []float64{0, 1, -1, 2})

	t.Run("Direct", func(t *testing.T) {
		l := &Likelihood{A: op, Mode: WeightDirect, Pattern: hyperparam.Row}
		grid, err := l.WeightGrid(c)
		if err != nil {
			t.Fatalf("WeightGrid failed: %v", err)
		}
		for r := 0; r < 4; r++ {
			for col := 0; col < 4; col++ {
				if grid.At(r, col) != c.Data[r] {
					t.Fatalf("grid(%d,%d) = %g, want %g", r, col, grid.At(r, col), c.Data[r])
				}
			}
		}
	})

	t.Run("Exp", func(t *testing.T) {
		l := &Likelihood{A: op, Mode: WeightExp, Pattern: hyperparam.Row}
		grid, err := l.WeightGrid(c)
		if err != nil {
			t.Fatalf("WeightGrid failed: %v", err)
		}
		for r := 0; r < 4; r++ {
			want := math.Exp(c.Data[r])
			if math.Abs(grid.At(r, 0)-want) > 1e-12 {
				t.Fatalf("grid(%d,0) = %g, want %g", r, grid.At(r, 0), want)
			}
		}
	})
}

func TestImageGradPaths(t *testing.T) {
	// The explicit adjoint path and the tape path must agree exactly.
	size := 8
	op := newTestOperator(t, size)
	rng := rand.New(rand.NewSource(31))
	c, _ := tensor.RandU([]int{size}, rng)
	x, _ := tensor.RandN([]int{2, size, size, 2}, rng)
	y, _ := tensor.RandN([]int{2, 1, size, size, 2}, rng)

	for _, mode := range []WeightMode{WeightDirect, WeightExp} {
		t.Run(mode.String(), func(t *testing.T) {
			explicit := &Likelihood{A: op, Mode: mode, Pattern: hyperparam.Row, Scale: 2}
			taped := &Likelihood{A: op, Mode: mode, Pattern: hyperparam.Row, Scale: 2, Autograd: true}

			ge, err := explicit.ImageGrad(c, x, y)
			if err != nil {
				t.Fatalf("explicit ImageGrad failed: %v", err)
			}
			gt, err := taped.ImageGrad(c, x, y)
			if err != nil {
				t.Fatalf("tape ImageGrad failed: %v", err)
			}
			for i := range ge.Data {
				if math.Abs(ge.Data[i]-gt.Data[i]) > 1e-10*math.Max(1, math.Abs(ge.Data[i])) {
					t.Fatalf("paths disagree at %d: %g vs %g", i, ge.Data[i], gt.Data[i])
				}
			}
		})
	}
}

func TestLikelihoodLossGradientConsistency(t *testing.T) {
	// The image gradient must match finite differences of the loss.
	size := 4
	op := newTestOperator(t, size)
	rng := rand.New(rand.NewSource(37))
	c, _ := tensor.RandU([]int{size}, rng)
	x, _ := tensor.RandN([]int{1, size, size, 2}, rng)
	y, _ := tensor.RandN([]int{1, 1, size, size, 2}, rng)
	l := &Likelihood{A: op, Mode: WeightDirect, Pattern: hyperparam.Row}

	grad, err := l.ImageGrad(c, x, y)
	if err != nil {
		t.Fatalf("ImageGrad failed: %v", err)
	}
	const eps = 1e-6
	for _, idx := range []int{0, 7, 19, x.NumElems - 1} {
		orig := x.Data[idx]
		x.Data[idx] = orig + eps
		lp, _ := l.Loss(c, x, y)
		x.Data[idx] = orig - eps
		lm, _ := l.Loss(c, x, y)
		x.Data[idx] = orig
		want := (lp - lm) / (2 * eps)
		if math.Abs(grad.Data[idx]-want) > 1e-5*math.Max(1, math.Abs(want)) {
			t.Errorf("grad[%d] = %g, finite difference %g", idx, grad.Data[idx], want)
		}
	}
}

func TestGridMulAutograd(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	meas, _ := tensor.RandN([]int{1, 1, 4, 4, 2}, rng)
	grid, _ := tensor.RandU([]int{4, 4}, rng)
	meas.SetRequiresGrad(true)

	weighted, err := GridMulAutograd(meas, grid)
	if err != nil {
		t.Fatalf("GridMulAutograd failed: %v", err)
	}
	root := tensor.SumAutograd(weighted)
	if err := tensor.Backward(root); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	g := meas.Grad()
	for i := 0; i < 16; i++ {
		if math.Abs(g.Data[2*i]-grid.Data[i]) > 1e-12 {
			t.Errorf("grad at pixel %d: expected %g, got %g", i, grid.Data[i], g.Data[2*i])
		}
	}
}

func TestMetaGradROI(t *testing.T) {
	xHat, _ := tensor.Full([]int{1, 4, 4, 2}, 2)
	xTrue, _ := tensor.Ones([]int{1, 4, 4, 2})
	roi := &ROI{Top: 1, Left: 1, Height: 2, Width: 2}

	g, err := MetaGrad(xHat, xTrue, roi)
	if err != nil {
		t.Fatalf("MetaGrad failed: %v", err)
	}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			base := (row*4 + col) * 2
			inside := row >= 1 && row < 3 && col >= 1 && col < 3
			want := 0.0
			if inside {
				want = 1
			}
			if g.Data[base] != want {
				t.Errorf("grad(%d,%d) = %g, want %g", row, col, g.Data[base], want)
			}
		}
	}

	loss, err := MetaLoss(xHat, xTrue, roi)
	if err != nil {
		t.Fatalf("MetaLoss failed: %v", err)
	}
	// Four pixels inside the window, two channels each, residual 1.
	if math.Abs(loss-4) > 1e-12 {
		t.Errorf("expected ROI loss 4, got %g", loss)
	}
}

func TestRegularizer(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		var r *Regularizer
		if g := r.Grad([]float64{1, -1}); g != nil {
			t.Error("nil regularizer produced a gradient")
		}
	})

	t.Run("L1Subgradient", func(t *testing.T) {
		r := &Regularizer{L1Scale: 0.3}
		g := r.Grad([]float64{2, -5, 0})
		want := []float64{0.3, -0.3, 0}
		for i := range g {
			if g[i] != want[i] {
				t.Errorf("g[%d] = %g, want %g", i, g[i], want[i])
			}
		}
		if p := r.Penalty([]float64{2, -5, 0}); math.Abs(p-2.1) > 1e-12 {
			t.Errorf("penalty = %g, want 2.1", p)
		}
	})
}

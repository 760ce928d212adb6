package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func TestTensorCreation(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		x, err := New([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if x.NumElems != 6 {
			t.Errorf("expected 6 elements, got %d", x.NumElems)
		}
		if x.At(1, 2) != 6 {
			t.Errorf("expected element (1,2) to be 6, got %g", x.At(1, 2))
		}
	})

	t.Run("DataLengthMismatch", func(t *testing.T) {
		if _, err := New([]int{2, 3}, []float64{1, 2}); err == nil {
			t.Error("expected error for mismatched data length")
		}
	})

	t.Run("InvalidShape", func(t *testing.T) {
		if _, err := Zeros([]int{2, 0}); err == nil {
			t.Error("expected error for zero dimension")
		}
		if _, err := Zeros([]int{-1}); err == nil {
			t.Error("expected error for negative dimension")
		}
	})

	t.Run("Full", func(t *testing.T) {
		x, err := Full([]int{4}, 2.5)
		if err != nil {
			t.Fatalf("Full failed: %v", err)
		}
		for i, v := range x.Data {
			if v != 2.5 {
				t.Errorf("element %d: expected 2.5, got %g", i, v)
			}
		}
	})

	t.Run("CloneDetaches", func(t *testing.T) {
		x, _ := New([]int{2}, []float64{1, 2})
		y := x.Clone()
		y.Data[0] = 99
		if x.Data[0] != 1 {
			t.Error("clone shares backing data with the original")
		}
	})

	t.Run("Reshape", func(t *testing.T) {
		x, _ := New([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
		y, err := Reshape(x, []int{3, 2})
		if err != nil {
			t.Fatalf("Reshape failed: %v", err)
		}
		if y.At(2, 1) != 6 {
			t.Errorf("expected reshaped (2,1) to be 6, got %g", y.At(2, 1))
		}
		if _, err := Reshape(x, []int{4}); err == nil {
			t.Error("expected error for element count mismatch")
		}
	})
}

func TestElementwiseOps(t *testing.T) {
	a, _ := New([]int{3}, []float64{1, -2, 3})
	b, _ := New([]int{3}, []float64{4, 5, -6})

	t.Run("AddSub", func(t *testing.T) {
		sum, err := Add(a, b)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		want := []float64{5, 3, -3}
		for i, v := range sum.Data {
			if v != want[i] {
				t.Errorf("sum[%d]: expected %g, got %g", i, want[i], v)
			}
		}
		diff, _ := Sub(a, b)
		wantDiff := []float64{-3, -7, 9}
		for i, v := range diff.Data {
			if v != wantDiff[i] {
				t.Errorf("diff[%d]: expected %g, got %g", i, wantDiff[i], v)
			}
		}
	})

	t.Run("MulBroadcast", func(t *testing.T) {
		s := FromScalar(2)
		out, err := Mul(s, a)
		if err != nil {
			t.Fatalf("Mul failed: %v", err)
		}
		want := []float64{2, -4, 6}
		for i, v := range out.Data {
			if v != want[i] {
				t.Errorf("out[%d]: expected %g, got %g", i, want[i], v)
			}
		}
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		c, _ := Zeros([]int{4})
		if _, err := Add(a, c); err == nil {
			t.Error("expected shape mismatch error")
		}
	})

	t.Run("DotNormSum", func(t *testing.T) {
		d, err := Dot(a, b)
		if err != nil {
			t.Fatalf("Dot failed: %v", err)
		}
		if d != 1*4+(-2)*5+3*(-6) {
			t.Errorf("unexpected dot product %g", d)
		}
		if Sum(a) != 2 {
			t.Errorf("unexpected sum %g", Sum(a))
		}
		if math.Abs(Norm(a)-math.Sqrt(14)) > 1e-12 {
			t.Errorf("unexpected norm %g", Norm(a))
		}
	})

	t.Run("Clamp", func(t *testing.T) {
		x, _ := New([]int{4}, []float64{-2, -0.5, 0.5, 2})
		Clamp(x, -1, 1)
		want := []float64{-1, -0.5, 0.5, 1}
		for i, v := range x.Data {
			if v != want[i] {
				t.Errorf("clamped[%d]: expected %g, got %g", i, want[i], v)
			}
		}
	})
}

// finiteDiff approximates d f / d x_i by central differences.
func finiteDiff(f func([]float64) float64, x []float64, i int, eps float64) float64 {
	orig := x[i]
	x[i] = orig + eps
	fp := f(x)
	x[i] = orig - eps
	fm := f(x)
	x[i] = orig
	return (fp - fm) / (2 * eps)
}

func TestAutogradGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	t.Run("DotBackward", func(t *testing.T) {
		a, _ := RandN([]int{5}, rng)
		b, _ := RandN([]int{5}, rng)
		a.SetRequiresGrad(true)
		out, err := DotAutograd(a, b)
		if err != nil {
			t.Fatalf("DotAutograd failed: %v", err)
		}
		if err := Backward(out); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		g := a.Grad()
		if g == nil {
			t.Fatal("no gradient reached the input")
		}
		for i := range g.Data {
			if math.Abs(g.Data[i]-b.Data[i]) > 1e-12 {
				t.Errorf("grad[%d]: expected %g, got %g", i, b.Data[i], g.Data[i])
			}
		}
	})

	t.Run("ExpDotChain", func(t *testing.T) {
		x, _ := RandN([]int{4}, rng)
		v, _ := RandN([]int{4}, rng)
		x.SetRequiresGrad(true)
		e := ExpAutograd(x)
		out, err := DotAutograd(e, v)
		if err != nil {
			t.Fatalf("DotAutograd failed: %v", err)
		}
		if err := Backward(out); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		g := x.Grad()
		f := func(c []float64) float64 {
			s := 0.0
			for i := range c {
				s += math.Exp(c[i]) * v.Data[i]
			}
			return s
		}
		for i := range g.Data {
			want := finiteDiff(f, x.Data, i, 1e-6)
			if math.Abs(g.Data[i]-want) > 1e-6*math.Max(1, math.Abs(want)) {
				t.Errorf("grad[%d]: expected %g, got %g", i, want, g.Data[i])
			}
		}
	})

	t.Run("SubMulSumChain", func(t *testing.T) {
		x, _ := RandN([]int{6}, rng)
		y, _ := RandN([]int{6}, rng)
		x.SetRequiresGrad(true)
		d, err := SubAutograd(x, y)
		if err != nil {
			t.Fatalf("SubAutograd failed: %v", err)
		}
		sq, err := MulAutograd(d, d)
		if err != nil {
			t.Fatalf("MulAutograd failed: %v", err)
		}
		out := SumAutograd(sq)
		if err := Backward(out); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		g := x.Grad()
		for i := range g.Data {
			want := 2 * (x.Data[i] - y.Data[i])
			if math.Abs(g.Data[i]-want) > 1e-10 {
				t.Errorf("grad[%d]: expected %g, got %g", i, want, g.Data[i])
			}
		}
	})

	t.Run("BroadcastReduction", func(t *testing.T) {
		s := FromScalar(1.5)
		s.SetRequiresGrad(true)
		x, _ := New([]int{3}, []float64{1, 2, 3})
		out, err := MulAutograd(s, x)
		if err != nil {
			t.Fatalf("MulAutograd failed: %v", err)
		}
		root := SumAutograd(out)
		if err := Backward(root); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		g := s.Grad()
		if g == nil || g.NumElems != 1 {
			t.Fatal("expected a single-element gradient for the broadcast scalar")
		}
		if math.Abs(g.Data[0]-6) > 1e-12 {
			t.Errorf("expected broadcast gradient 6, got %g", g.Data[0])
		}
	})

	t.Run("NonScalarRootRejected", func(t *testing.T) {
		x, _ := Zeros([]int{3})
		if err := Backward(x); err == nil {
			t.Error("expected error for a non-scalar backward root")
		}
	})
}

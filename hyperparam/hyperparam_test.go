package hyperparam

import (
	"math"
	"math/rand"
	"testing"

	"github.com/tlanc/masklearn/tensor"
)

func TestParsePattern(t *testing.T) {
	cases := []struct {
		in   string
		want Pattern
		ok   bool
	}{
		{"isotropic", Isotropic, true},
		{"horizontal", Row, true},
		{"vertical", Column, true},
		{"random", Grid, true},
		{"diagonal", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParsePattern(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParsePattern(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParsePattern(%q) accepted an unsupported pattern", tc.in)
		}
	}
}

func TestPatternLen(t *testing.T) {
	cases := []struct {
		p    Pattern
		want int
	}{
		{Isotropic, 1},
		{Row, 6},
		{Column, 4},
		{Grid, 24},
	}
	for _, tc := range cases {
		got, err := tc.p.Len(6, 4)
		if err != nil {
			t.Fatalf("Len(%v) failed: %v", tc.p, err)
		}
		if got != tc.want {
			t.Errorf("Len(%v) = %d, want %d", tc.p, got, tc.want)
		}
	}
}

func TestSpreadReduceAdjoint(t *testing.T) {
	// <spread(f), g> must equal <f, reduce(g)> for every pattern.
	rng := rand.New(rand.NewSource(4))
	h, w := 6, 4
	for _, p := range []Pattern{Isotropic, Row, Column, Grid} {
		t.Run(p.String(), func(t *testing.T) {
			n, _ := p.Len(h, w)
			f, _ := tensor.RandN([]int{n}, rng)
			g, _ := tensor.RandN([]int{h, w}, rng)

			spread, err := SpreadGrid(f, p, h, w)
			if err != nil {
				t.Fatalf("SpreadGrid failed: %v", err)
			}
			reduced, err := ReduceGrid(g, p, h, w)
			if err != nil {
				t.Fatalf("ReduceGrid failed: %v", err)
			}
			lhs, _ := tensor.Dot(spread, g)
			rhs, _ := tensor.Dot(f, reduced)
			if math.Abs(lhs-rhs) > 1e-12*math.Max(1, math.Abs(lhs)) {
				t.Errorf("adjoint pair violated: %g vs %g", lhs, rhs)
			}
		})
	}
}

func TestSpreadAutograd(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	h, w := 4, 4
	f, _ := tensor.RandN([]int{h}, rng)
	f.SetRequiresGrad(true)
	weights, _ := tensor.RandN([]int{h, w}, rng)

	grid, err := SpreadAutograd(f, Row, h, w)
	if err != nil {
		t.Fatalf("SpreadAutograd failed: %v", err)
	}
	out, err := tensor.DotAutograd(grid, weights)
	if err != nil {
		t.Fatalf("DotAutograd failed: %v", err)
	}
	if err := tensor.Backward(out); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	g := f.Grad()
	if g == nil {
		t.Fatal("no gradient reached the flat vector")
	}
	for r := 0; r < h; r++ {
		want := 0.0
		for c := 0; c < w; c++ {
			want += weights.Data[r*w+c]
		}
		if math.Abs(g.Data[r]-want) > 1e-12 {
			t.Errorf("grad[%d]: expected %g, got %g", r, want, g.Data[r])
		}
	}
}

func TestDeterministicGenerations(t *testing.T) {
	d, err := NewDeterministic(Row, 8, 8, 1)
	if err != nil {
		t.Fatalf("NewDeterministic failed: %v", err)
	}
	gen := d.Generation()
	d.Flat()[0] = 5
	d.Bump()
	if d.Generation() != gen+1 {
		t.Errorf("Bump did not advance the generation")
	}

	saved := d.Clone()
	d.Flat()[0] = -3
	d.Bump()
	if err := d.Restore(saved); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if d.Flat()[0] != 5 {
		t.Errorf("restore lost the saved value, got %g", d.Flat()[0])
	}
	if d.Generation() <= gen+1 {
		t.Error("restore did not advance the generation")
	}

	short, _ := tensor.Zeros([]int{3})
	if err := d.Restore(short); err == nil {
		t.Error("expected error restoring a mismatched length")
	}
}

func TestProbabilisticSampling(t *testing.T) {
	h, w := 16, 16
	keep := CenterRange(h, 4)
	exclude := []int{0, 1}
	p, err := NewProbabilistic(Row, h, w, 0.5, keep, exclude)
	if err != nil {
		t.Fatalf("NewProbabilistic failed: %v", err)
	}
	rng := rand.New(rand.NewSource(21))

	t.Run("FixedPositionsForced", func(t *testing.T) {
		sample, err := p.SampleMask(1.0, rng)
		if err != nil {
			t.Fatalf("SampleMask failed: %v", err)
		}
		for _, i := range keep {
			if sample.Mask.Data[i] != 1 {
				t.Errorf("kept position %d sampled to %g", i, sample.Mask.Data[i])
			}
			if sample.dLogit[i] != 0 {
				t.Errorf("kept position %d carries gradient %g", i, sample.dLogit[i])
			}
		}
		for _, i := range exclude {
			if sample.Mask.Data[i] != 0 {
				t.Errorf("excluded position %d sampled to %g", i, sample.Mask.Data[i])
			}
		}
	})

	t.Run("TemperatureLimit", func(t *testing.T) {
		// As temperature approaches zero the relaxed draw concentrates on
		// the thresholded mask. Saturated logits keep the per-position flip
		// probability negligible.
		sat, err := NewProbabilistic(Row, h, w, 6, keep, exclude)
		if err != nil {
			t.Fatalf("NewProbabilistic failed: %v", err)
		}
		likely := sat.MostLikelyMask()
		agree := 0
		const draws = 50
		for d := 0; d < draws; d++ {
			sample, err := sat.SampleMask(1e-4, rng)
			if err != nil {
				t.Fatalf("SampleMask failed: %v", err)
			}
			match := true
			for i := range sample.Mask.Data {
				if math.Abs(sample.Mask.Data[i]-likely.Data[i]) > 0.05 {
					match = false
					break
				}
			}
			if match {
				agree++
			}
		}
		if agree < draws*8/10 {
			t.Errorf("only %d/%d low-temperature draws matched the most-likely mask", agree, draws)
		}
	})

	t.Run("ExpectedMask", func(t *testing.T) {
		exp := p.ExpectedMask()
		want := 1.0 / (1.0 + math.Exp(-0.5))
		free := -1
		for i := range exp.Data {
			fixed := false
			for _, k := range keep {
				if i == k {
					fixed = true
				}
			}
			for _, e := range exclude {
				if i == e {
					fixed = true
				}
			}
			if !fixed {
				free = i
				break
			}
		}
		if free < 0 {
			t.Fatal("no free position found")
		}
		if math.Abs(exp.Data[free]-want) > 1e-12 {
			t.Errorf("expected mask at free position: want %g, got %g", want, exp.Data[free])
		}
	})

	t.Run("ChainGrad", func(t *testing.T) {
		sample, _ := p.SampleMask(0.7, rng)
		maskGrad, _ := tensor.Ones([]int{p.Len()})
		g, err := p.ChainGrad(maskGrad, sample)
		if err != nil {
			t.Fatalf("ChainGrad failed: %v", err)
		}
		for _, i := range keep {
			if g.Data[i] != 0 {
				t.Errorf("gradient reached fixed position %d", i)
			}
		}
	})

	t.Run("InvalidConstruction", func(t *testing.T) {
		if _, err := NewProbabilistic(Isotropic, h, w, 0, nil, nil); err == nil {
			t.Error("expected error for an isotropic probabilistic mask")
		}
		if _, err := NewProbabilistic(Row, h, w, 0, []int{2}, []int{2}); err == nil {
			t.Error("expected error for overlapping keep and exclude sets")
		}
		if _, err := p.SampleMask(0, rng); err == nil {
			t.Error("expected error for a zero temperature")
		}
	})
}

func TestMaskViews(t *testing.T) {
	grid, _ := tensor.New([]int{2, 2}, []float64{-2, 0, 1, 2})
	views := MaskViews(grid)

	signed := views["signed"]
	if signed.Data[0] != 0 || signed.Data[3] != 1 {
		t.Errorf("signed view not scaled to [0,1]: %v", signed.Data)
	}
	magnitude := views["magnitude"]
	if magnitude.Data[0] != 1 || magnitude.Data[2] != 0.5 {
		t.Errorf("magnitude view wrong: %v", magnitude.Data)
	}
	binary := views["binary"]
	want := []float64{1, 0, 1, 1}
	for i, v := range binary.Data {
		if v != want[i] {
			t.Errorf("binary[%d]: expected %g, got %g", i, want[i], v)
		}
	}
}

package optimizer

import (
	"math"
	"math/rand"
	"testing"
)

func TestSoftProjection(t *testing.T) {
	p := &Projection{Family: FamilySoft, Scale: 0.5}

	t.Run("FixedPointAtZero", func(t *testing.T) {
		// Everything inside [-scale, scale] must land exactly on zero.
		c := []float64{0.5, -0.5, 0.3, -0.1, 0}
		p.Apply(c)
		for i, v := range c {
			if v != 0 {
				t.Errorf("c[%d]: expected exact zero, got %g", i, v)
			}
		}
	})

	t.Run("Shrinkage", func(t *testing.T) {
		c := []float64{2, -1.5}
		p.Apply(c)
		if c[0] != 1.5 || c[1] != -1 {
			t.Errorf("unexpected shrinkage result: %v", c)
		}
	})
}

func TestHardProjection(t *testing.T) {
	t.Run("KeepFraction", func(t *testing.T) {
		p := &Projection{Family: FamilyHard, Scale: 0.5}
		c := []float64{8, -7, 6, -5, 4, -3, 2, -1}
		p.Apply(c)
		nz := 0
		for _, v := range c {
			if v != 0 {
				nz++
			}
		}
		if nz != 4 {
			t.Errorf("expected 4 survivors, got %d: %v", nz, c)
		}
		if c[0] != 8 || c[1] != -7 || c[2] != 6 || c[3] != -5 {
			t.Errorf("largest magnitudes did not survive: %v", c)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		p := &Projection{Family: FamilyHard, Scale: 0.4}
		rng := rand.New(rand.NewSource(6))
		c := make([]float64, 32)
		for i := range c {
			c[i] = rng.NormFloat64()
		}
		p.Apply(c)
		once := append([]float64{}, c...)
		p.Apply(c)
		for i := range c {
			if c[i] != once[i] {
				t.Fatalf("second application changed c[%d]: %g vs %g", i, once[i], c[i])
			}
		}
	})

	t.Run("TiesKept", func(t *testing.T) {
		p := &Projection{Family: FamilyHard, Scale: 0.5}
		c := []float64{1, 1, 1, 1}
		p.Apply(c)
		// All entries tie at the threshold magnitude, so all survive.
		for i, v := range c {
			if v != 1 {
				t.Errorf("tied entry %d was zeroed: %g", i, v)
			}
		}
	})

	t.Run("ZeroScaleZeroesAll", func(t *testing.T) {
		p := &Projection{Family: FamilyHard, Scale: 0}
		c := []float64{3, -2, 1}
		p.Apply(c)
		for i, v := range c {
			if v != 0 {
				t.Errorf("c[%d]: expected 0, got %g", i, v)
			}
		}
	})
}

func TestClampProjection(t *testing.T) {
	p := &Projection{Family: FamilyClamp, ClampMin: -1, ClampMax: 1}
	c := []float64{-3, -0.5, 0.5, 3}
	p.Apply(c)
	want := []float64{-1, -0.5, 0.5, 1}
	for i, v := range c {
		if v != want[i] {
			t.Errorf("c[%d]: expected %g, got %g", i, want[i], v)
		}
	}
}

func TestNonnegClamp(t *testing.T) {
	p := &Projection{Family: FamilyNone, NonnegClamp: true}
	c := []float64{-2, 0, 3}
	p.Apply(c)
	want := []float64{0, 0, 3}
	for i, v := range c {
		if v != want[i] {
			t.Errorf("c[%d]: expected %g, got %g", i, want[i], v)
		}
	}
}

func TestCenterKeep(t *testing.T) {
	// The calibration range must read exactly 1 after any projection,
	// whatever the sparsification did to it.
	families := []Projection{
		{Family: FamilySoft, Scale: 10, CenterLo: 3, CenterHi: 6},
		{Family: FamilyHard, Scale: 0.1, CenterLo: 3, CenterHi: 6},
		{Family: FamilyClamp, ClampMin: -0.5, ClampMax: 0.5, CenterLo: 3, CenterHi: 6},
	}
	rng := rand.New(rand.NewSource(12))
	for _, p := range families {
		t.Run(p.Family.String(), func(t *testing.T) {
			for trial := 0; trial < 20; trial++ {
				c := make([]float64, 10)
				for i := range c {
					c[i] = rng.NormFloat64() * math.Pow(10, float64(rng.Intn(3)))
				}
				p.Apply(c)
				for i := p.CenterLo; i < p.CenterHi; i++ {
					if c[i] != 1 {
						t.Fatalf("trial %d: center index %d is %g, not 1", trial, i, c[i])
					}
				}
			}
		})
	}
}

func TestParseFamily(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"", true},
		{"none", true},
		{"soft", true},
		{"hard", true},
		{"clamp", true},
		{"topk", false},
	}
	for _, tc := range cases {
		_, err := ParseFamily(tc.in)
		if tc.ok && err != nil {
			t.Errorf("ParseFamily(%q) rejected: %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseFamily(%q) accepted an unsupported family", tc.in)
		}
	}
}

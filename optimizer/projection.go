package optimizer

import (
	"fmt"
	"math"
	"sort"
)

// Family is the closed set of hyperparameter regularizer families. Exactly
// one family is active per run.
type Family int

const (
	// FamilyNone applies no sparsifying projection.
	FamilyNone Family = iota
	// FamilySoft is the proximal L1 operator: shrink toward zero by scale,
	// zeroing everything inside [-scale, scale].
	FamilySoft
	// FamilyHard keeps the scale-fraction of entries with largest magnitude
	// and zeroes the rest.
	FamilyHard
	// FamilyClamp bounds entries to a fixed numeric range.
	FamilyClamp
)

func (f Family) String() string {
	switch f {
	case FamilyNone:
		return "none"
	case FamilySoft:
		return "soft"
	case FamilyHard:
		return "hard"
	case FamilyClamp:
		return "clamp"
	default:
		return "unknown"
	}
}

// ParseFamily converts a configuration string to a Family.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "", "none":
		return FamilyNone, nil
	case "soft":
		return FamilySoft, nil
	case "hard":
		return FamilyHard, nil
	case "clamp":
		return FamilyClamp, nil
	default:
		return 0, fmt.Errorf("unsupported regularizer family %q", s)
	}
}

// Projection enforces the hyperparameter's valid domain after each raw
// optimizer update. The center-keep range, when set, is reapplied
// unconditionally so sparsification can never remove the calibration region.
type Projection struct {
	Family Family
	Scale  float64

	// Clamp range, FamilyClamp only.
	ClampMin float64
	ClampMax float64

	// NonnegClamp floors entries at zero before the family projection runs,
	// for runs whose weights must stay nonnegative in direct weight mode.
	NonnegClamp bool

	// Center-keep range [CenterLo, CenterHi); disabled when CenterHi <= CenterLo.
	CenterLo int
	CenterHi int
}

// Apply projects c in place.
func (p *Projection) Apply(c []float64) {
	if p.NonnegClamp {
		for i, v := range c {
			if v < 0 {
				c[i] = 0
			}
		}
	}

	switch p.Family {
	case FamilySoft:
		for i, v := range c {
			switch {
			case v > p.Scale:
				c[i] = v - p.Scale
			case v < -p.Scale:
				c[i] = v + p.Scale
			default:
				c[i] = 0
			}
		}
	case FamilyHard:
		p.applyHard(c)
	case FamilyClamp:
		for i, v := range c {
			if v < p.ClampMin {
				c[i] = p.ClampMin
			} else if v > p.ClampMax {
				c[i] = p.ClampMax
			}
		}
	}

	for i := p.CenterLo; i < p.CenterHi && i < len(c); i++ {
		if i >= 0 {
			c[i] = 1
		}
	}
}

// applyHard zeroes every entry whose magnitude lies strictly below the k-th
// order statistic, where k is chosen so the scale-fraction of entries with
// largest magnitude survives. Entries equal to the threshold are kept, so
// ties may retain slightly more than the fraction.
func (p *Projection) applyHard(c []float64) {
	n := len(c)
	keep := int(math.Floor(p.Scale * float64(n)))
	if keep >= n {
		return
	}
	mags := make([]float64, n)
	for i, v := range c {
		mags[i] = math.Abs(v)
	}
	sort.Float64s(mags)
	if keep <= 0 {
		for i := range c {
			c[i] = 0
		}
		return
	}
	threshold := mags[n-keep]
	for i, v := range c {
		if math.Abs(v) < threshold {
			c[i] = 0
		}
	}
}

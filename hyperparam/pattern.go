package hyperparam

import "fmt"

// Pattern is the closed set of supported sample-pattern layouts for the
// hyperparameter grid.
type Pattern int

const (
	// Isotropic broadcasts a scalar weight over the full grid.
	Isotropic Pattern = iota
	// Row holds one weight per row, broadcast along columns (whole readout
	// lines in the horizontal direction).
	Row
	// Column holds one weight per column, broadcast along rows.
	Column
	// Grid holds one weight per grid position.
	Grid
)

func (p Pattern) String() string {
	switch p {
	case Isotropic:
		return "isotropic"
	case Row:
		return "horizontal"
	case Column:
		return "vertical"
	case Grid:
		return "random"
	default:
		return "unknown"
	}
}

// ParsePattern converts a configuration string to a Pattern.
func ParsePattern(s string) (Pattern, error) {
	switch s {
	case "isotropic":
		return Isotropic, nil
	case "horizontal":
		return Row, nil
	case "vertical":
		return Column, nil
	case "random":
		return Grid, nil
	default:
		return 0, fmt.Errorf("unsupported sample pattern %q", s)
	}
}

// Len returns the number of free parameters a pattern needs on an h-by-w grid.
func (p Pattern) Len(h, w int) (int, error) {
	switch p {
	case Isotropic:
		return 1, nil
	case Row:
		return h, nil
	case Column:
		return w, nil
	case Grid:
		return h * w, nil
	default:
		return 0, fmt.Errorf("unsupported sample pattern %d", int(p))
	}
}

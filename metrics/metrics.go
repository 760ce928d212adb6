package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary is the per-iteration aggregate of one named scalar series.
type Summary struct {
	Mean  float64
	Std   float64
	Count int
}

// Store collects named scalar arrays per phase. Values accumulate into an
// open window as batches run; Commit closes the window for one iteration,
// appending the window mean to the per-phase series. The store never decides
// how anything is persisted; checkpointing exports it wholesale.
type Store struct {
	window map[string]map[string][]float64 // phase -> name -> raw values
	series map[string]map[string][]float64 // phase -> name -> per-iteration means
}

// NewStore creates an empty metric store.
func NewStore() *Store {
	return &Store{
		window: make(map[string]map[string][]float64),
		series: make(map[string]map[string][]float64),
	}
}

// Add appends raw values to the open window of a phase.
func (s *Store) Add(phase, name string, values ...float64) {
	w, ok := s.window[phase]
	if !ok {
		w = make(map[string][]float64)
		s.window[phase] = w
	}
	w[name] = append(w[name], values...)
}

// Commit closes the current window for a phase: every accumulated series is
// aggregated, its mean appended to the phase series, and the window cleared.
// The per-name summaries are returned for logging.
func (s *Store) Commit(phase string) map[string]Summary {
	w := s.window[phase]
	if len(w) == 0 {
		return nil
	}
	out := make(map[string]Summary, len(w))
	dst, ok := s.series[phase]
	if !ok {
		dst = make(map[string][]float64)
		s.series[phase] = dst
	}
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		vals := w[name]
		mean := stat.Mean(vals, nil)
		std := 0.0
		if len(vals) > 1 {
			std = math.Sqrt(stat.Variance(vals, nil))
		}
		out[name] = Summary{Mean: mean, Std: std, Count: len(vals)}
		dst[name] = append(dst[name], mean)
	}
	delete(s.window, phase)
	return out
}

// Series returns the committed per-iteration means of one phase series.
func (s *Store) Series(phase, name string) []float64 {
	return s.series[phase][name]
}

// Export returns the committed series for checkpointing.
func (s *Store) Export() map[string]map[string][]float64 {
	out := make(map[string]map[string][]float64, len(s.series))
	for phase, names := range s.series {
		cp := make(map[string][]float64, len(names))
		for name, vals := range names {
			cp[name] = append([]float64{}, vals...)
		}
		out[phase] = cp
	}
	return out
}

// Import replaces the committed series, used on checkpoint resume.
func (s *Store) Import(series map[string]map[string][]float64) {
	s.series = make(map[string]map[string][]float64, len(series))
	for phase, names := range series {
		cp := make(map[string][]float64, len(names))
		for name, vals := range names {
			cp[name] = append([]float64{}, vals...)
		}
		s.series[phase] = cp
	}
}

// Tracker follows the best value of a metric across iterations.
type Tracker struct {
	best         float64
	higherBetter bool
	seen         bool
}

// NewTracker creates a tracker; higherBetter selects the improvement
// direction.
func NewTracker(higherBetter bool) *Tracker {
	return &Tracker{higherBetter: higherBetter}
}

// Observe records a value and reports whether it improved on the best so far.
// The first observation always improves.
func (t *Tracker) Observe(v float64) bool {
	if !t.seen {
		t.best = v
		t.seen = true
		return true
	}
	improved := (t.higherBetter && v > t.best) || (!t.higherBetter && v < t.best)
	if improved {
		t.best = v
	}
	return improved
}

// Best returns the best observed value; valid only after an observation.
func (t *Tracker) Best() float64 { return t.best }

// Seen reports whether any value was observed.
func (t *Tracker) Seen() bool { return t.seen }

// SetBest seeds the tracker, used on checkpoint resume.
func (t *Tracker) SetBest(v float64) {
	t.best = v
	t.seen = true
}

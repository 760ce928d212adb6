package optimizer

import "fmt"

// DecayPolicy selects when exponential learning-rate decay fires. The two
// policies are mutually exclusive per run.
type DecayPolicy int

const (
	// DecayEveryIteration multiplies the learning rate by gamma after every
	// outer step.
	DecayEveryIteration DecayPolicy = iota
	// DecayOnPlateau multiplies the learning rate by gamma only when the
	// tracked validation metric fails to improve.
	DecayOnPlateau
)

func (p DecayPolicy) String() string {
	switch p {
	case DecayEveryIteration:
		return "every_iteration"
	case DecayOnPlateau:
		return "on_plateau"
	default:
		return "unknown"
	}
}

// ParseDecayPolicy converts a configuration string to a DecayPolicy.
func ParseDecayPolicy(s string) (DecayPolicy, error) {
	switch s {
	case "every_iteration":
		return DecayEveryIteration, nil
	case "on_plateau":
		return DecayOnPlateau, nil
	default:
		return 0, fmt.Errorf("unsupported decay policy %q", s)
	}
}

// ExponentialDecay is an exponential learning-rate schedule applied through
// an Optimizer's UpdateLearningRate. A nil scheduler means a constant rate.
type ExponentialDecay struct {
	Gamma  float64
	Policy DecayPolicy
}

// NewExponentialDecay creates an exponential decay schedule. Gamma outside
// (0, 1) falls back to 0.95, matching a mild per-event reduction.
func NewExponentialDecay(gamma float64, policy DecayPolicy) *ExponentialDecay {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialDecay{Gamma: gamma, Policy: policy}
}

// Decay applies one decay event and returns the old and new rates.
func (d *ExponentialDecay) Decay(opt Optimizer) (oldLR, newLR float64) {
	oldLR = opt.LearningRate()
	newLR = oldLR * d.Gamma
	opt.UpdateLearningRate(newLR)
	return oldLR, newLR
}

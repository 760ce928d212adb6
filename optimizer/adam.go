package optimizer

import (
	"fmt"
	"math"
)

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64 // Small constant to prevent division by zero
}

// DefaultAdamConfig returns the default Adam configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam is a moment-based update rule with bias-corrected first and second
// moment estimates.
type Adam struct {
	cfg       AdamConfig
	momentum  []float64
	variance  []float64
	stepCount uint64
}

// NewAdam creates an Adam optimizer for a parameter vector of length n.
func NewAdam(cfg AdamConfig, n int) (*Adam, error) {
	if n <= 0 {
		return nil, fmt.Errorf("parameter length must be positive, got %d", n)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}
	return &Adam{
		cfg:      cfg,
		momentum: make([]float64, n),
		variance: make([]float64, n),
	}, nil
}

// Step performs a single Adam optimization step in place.
func (a *Adam) Step(params, grad []float64) error {
	if len(params) != len(a.momentum) || len(grad) != len(a.momentum) {
		return fmt.Errorf("adam step: expected vectors of length %d, got params %d, grad %d",
			len(a.momentum), len(params), len(grad))
	}
	a.stepCount++
	bc1 := 1.0 - math.Pow(a.cfg.Beta1, float64(a.stepCount))
	bc2 := 1.0 - math.Pow(a.cfg.Beta2, float64(a.stepCount))

	for i := range params {
		g := grad[i]
		a.momentum[i] = a.cfg.Beta1*a.momentum[i] + (1-a.cfg.Beta1)*g
		a.variance[i] = a.cfg.Beta2*a.variance[i] + (1-a.cfg.Beta2)*g*g

		mHat := a.momentum[i] / bc1
		vHat := a.variance[i] / bc2
		params[i] -= a.cfg.LearningRate * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon)
	}
	return nil
}

func (a *Adam) LearningRate() float64 { return a.cfg.LearningRate }

func (a *Adam) UpdateLearningRate(lr float64) { a.cfg.LearningRate = lr }

func (a *Adam) StepCount() uint64 { return a.stepCount }

// State extracts the full Adam state for checkpointing.
func (a *Adam) State() *State {
	m := make([]float64, len(a.momentum))
	v := make([]float64, len(a.variance))
	copy(m, a.momentum)
	copy(v, a.variance)
	return &State{
		Type: "adam",
		Parameters: map[string]float64{
			"learning_rate": a.cfg.LearningRate,
			"beta1":         a.cfg.Beta1,
			"beta2":         a.cfg.Beta2,
			"epsilon":       a.cfg.Epsilon,
		},
		StepCount: a.stepCount,
		Buffers: []StateTensor{
			{Name: "momentum", Data: m, StateType: "momentum"},
			{Name: "variance", Data: v, StateType: "variance"},
		},
	}
}

// LoadState restores Adam state from a checkpoint.
func (a *Adam) LoadState(state *State) error {
	if err := validateStateType("adam", state); err != nil {
		return err
	}
	m, err := findBuffer(state, "momentum")
	if err != nil {
		return err
	}
	v, err := findBuffer(state, "variance")
	if err != nil {
		return err
	}
	if err := restoreBuffer(a.momentum, m); err != nil {
		return err
	}
	if err := restoreBuffer(a.variance, v); err != nil {
		return err
	}
	if lr, ok := state.Parameters["learning_rate"]; ok {
		a.cfg.LearningRate = lr
	}
	a.stepCount = state.StepCount
	return nil
}

package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// SGDConfig holds configuration for stochastic gradient descent.
type SGDConfig struct {
	LearningRate float64
	Momentum     float64 // 0 disables the momentum buffer
}

// DefaultSGDConfig returns the default SGD configuration.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
	}
}

// SGD is a plain gradient update, optionally with classical momentum.
type SGD struct {
	cfg       SGDConfig
	velocity  []float64
	stepCount uint64
}

// NewSGD creates an SGD optimizer for a parameter vector of length n.
func NewSGD(cfg SGDConfig, n int) (*SGD, error) {
	if n <= 0 {
		return nil, fmt.Errorf("parameter length must be positive, got %d", n)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}
	return &SGD{
		cfg:      cfg,
		velocity: make([]float64, n),
	}, nil
}

// Step performs a single SGD step in place.
func (s *SGD) Step(params, grad []float64) error {
	if len(params) != len(s.velocity) || len(grad) != len(s.velocity) {
		return fmt.Errorf("sgd step: expected vectors of length %d, got params %d, grad %d",
			len(s.velocity), len(params), len(grad))
	}
	s.stepCount++
	if s.cfg.Momentum == 0 {
		floats.AddScaled(params, -s.cfg.LearningRate, grad)
		return nil
	}
	for i := range params {
		s.velocity[i] = s.cfg.Momentum*s.velocity[i] + grad[i]
		params[i] -= s.cfg.LearningRate * s.velocity[i]
	}
	return nil
}

func (s *SGD) LearningRate() float64 { return s.cfg.LearningRate }

func (s *SGD) UpdateLearningRate(lr float64) { s.cfg.LearningRate = lr }

func (s *SGD) StepCount() uint64 { return s.stepCount }

// State extracts the full SGD state for checkpointing.
func (s *SGD) State() *State {
	v := make([]float64, len(s.velocity))
	copy(v, s.velocity)
	return &State{
		Type: "sgd",
		Parameters: map[string]float64{
			"learning_rate": s.cfg.LearningRate,
			"momentum":      s.cfg.Momentum,
		},
		StepCount: s.stepCount,
		Buffers: []StateTensor{
			{Name: "velocity", Data: v, StateType: "momentum"},
		},
	}
}

// LoadState restores SGD state from a checkpoint.
func (s *SGD) LoadState(state *State) error {
	if err := validateStateType("sgd", state); err != nil {
		return err
	}
	v, err := findBuffer(state, "velocity")
	if err != nil {
		return err
	}
	if err := restoreBuffer(s.velocity, v); err != nil {
		return err
	}
	if lr, ok := state.Parameters["learning_rate"]; ok {
		s.cfg.LearningRate = lr
	}
	s.stepCount = state.StepCount
	return nil
}

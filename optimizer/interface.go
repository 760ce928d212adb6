package optimizer

import (
	"fmt"
)

// Optimizer defines the common interface for outer-loop update rules. All
// implementations operate in place on a flat parameter vector and expose
// their full mutable state for checkpointing.
type Optimizer interface {
	// Step applies one update to params using grad. Both slices must have
	// the length the optimizer was created with.
	Step(params, grad []float64) error

	// LearningRate returns the current learning rate.
	LearningRate() float64

	// UpdateLearningRate replaces the learning rate (used by schedulers).
	UpdateLearningRate(lr float64)

	// StepCount returns the number of completed steps.
	StepCount() uint64

	// State extracts the optimizer state for checkpointing.
	State() *State

	// LoadState restores optimizer state from a checkpoint.
	LoadState(state *State) error
}

// State represents the complete serializable state of an optimizer.
type State struct {
	Type       string             `json:"type"`
	Parameters map[string]float64 `json:"parameters"`
	StepCount  uint64             `json:"step_count"`
	Buffers    []StateTensor      `json:"buffers"`
}

// StateTensor is one named optimizer state buffer (momentum, variance, ...).
type StateTensor struct {
	Name      string    `json:"name"`
	Data      []float64 `json:"data"`
	StateType string    `json:"state_type"`
}

// New creates an optimizer by name for a parameter vector of length n.
func New(kind string, n int, lr float64) (Optimizer, error) {
	switch kind {
	case "adam":
		cfg := DefaultAdamConfig()
		cfg.LearningRate = lr
		return NewAdam(cfg, n)
	case "sgd":
		cfg := DefaultSGDConfig()
		cfg.LearningRate = lr
		return NewSGD(cfg, n)
	default:
		return nil, fmt.Errorf("unsupported optimizer %q", kind)
	}
}

// validateStateType ensures a checkpointed state matches the optimizer kind.
func validateStateType(kind string, state *State) error {
	if state.Type != kind {
		return fmt.Errorf("state type mismatch: expected %s, got %s", kind, state.Type)
	}
	return nil
}

func findBuffer(state *State, name string) (*StateTensor, error) {
	for i := range state.Buffers {
		if state.Buffers[i].Name == name {
			return &state.Buffers[i], nil
		}
	}
	return nil, fmt.Errorf("state buffer %q not found", name)
}

func restoreBuffer(dst []float64, src *StateTensor) error {
	if len(src.Data) != len(dst) {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d", src.Name, len(dst), len(src.Data))
	}
	copy(dst, src.Data)
	return nil
}

package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tlanc/masklearn/optimizer"
)

// Snapshot is the complete mutable state of an outer-optimization run. A run
// restored from a snapshot continues exactly where it stopped; nothing is
// re-derived.
type Snapshot struct {
	// Hyperparameter state
	C         []float64   `json:"c"`
	CHistory  [][]float64 `json:"c_history"`
	GradNorms []float64   `json:"grad_norms"`

	// Best-value tracking
	BestC      []float64 `json:"best_c,omitempty"`
	BestMetric float64   `json:"best_metric"`
	HasBest    bool      `json:"has_best"`

	// Training state
	Iteration    int     `json:"iteration"`
	LearningRate float64 `json:"learning_rate"`

	// Optimizer state (moments, step count)
	OptimizerState *optimizer.State `json:"optimizer_state,omitempty"`

	// Committed metric series per phase
	Metrics map[string]map[string][]float64 `json:"metrics,omitempty"`

	// Metadata
	Metadata Metadata `json:"metadata"`
}

// Metadata describes a snapshot.
type Metadata struct {
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags,omitempty"`
}

// Saver writes and reads JSON snapshots under a fixed directory.
type Saver struct {
	dir    string
	logger *log.Logger
}

// NewSaver creates the snapshot directory if needed.
func NewSaver(dir string, logger *log.Logger) (*Saver, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Saver{dir: dir, logger: logger}, nil
}

// Dir returns the snapshot directory.
func (s *Saver) Dir() string { return s.dir }

// Save writes a snapshot under the given name, replacing any previous file
// atomically.
func (s *Saver) Save(name string, snap *Snapshot) (string, error) {
	if snap.Metadata.CreatedAt.IsZero() {
		snap.Metadata.CreatedAt = time.Now()
	}
	if snap.Metadata.Version == "" {
		snap.Metadata.Version = "1.0"
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	path := filepath.Join(s.dir, name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("snapshot saved", "path", path, "iteration", snap.Iteration)
	}
	return path, nil
}

// Load reads a snapshot from an explicit path.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snap.C == nil {
		return nil, fmt.Errorf("snapshot %s carries no hyperparameter state", path)
	}
	return &snap, nil
}

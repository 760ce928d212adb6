package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tlanc/masklearn/hyperparam"
	"github.com/tlanc/masklearn/meta"
	"github.com/tlanc/masklearn/operator"
	"github.com/tlanc/masklearn/optimizer"
)

// ConfigurationError reports an unsupported combination of settings. It is
// raised eagerly at load time, before any run state exists.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func bad(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Config is the full run configuration, loadable from YAML.
type Config struct {
	Problem    ProblemConfig    `yaml:"problem"`
	Solver     SolverConfig     `yaml:"solver"`
	Outer      OuterConfig      `yaml:"outer"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Data       DataConfig       `yaml:"data"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
}

// ProblemConfig describes the inverse problem and the hyperparameter.
type ProblemConfig struct {
	Size             int     `yaml:"size"`              // square image extent
	Pattern          string  `yaml:"pattern"`           // isotropic | horizontal | vertical | random
	Parameterization string  `yaml:"parameterization"`  // deterministic | probabilistic
	WeightMode       string  `yaml:"weight_mode"`       // direct | exp
	InitValue        float64 `yaml:"init_value"`        // initial c (or logit) value
	CenterWidth      int     `yaml:"center_width"`      // calibration region width, 0 disables
	LikelihoodScale  float64 `yaml:"likelihood_scale"`  // fixed scale s, 0 means 1
	UseAutograd      bool    `yaml:"use_autograd"`      // tape-based likelihood image gradient
	Coils            int     `yaml:"coils"`             // 0 or 1 means single-coil
	Noise            NoiseConfig `yaml:"noise"`
	ROI              *ROIConfig  `yaml:"roi"`
}

// NoiseConfig describes additive measurement noise on target generation.
type NoiseConfig struct {
	Enabled bool    `yaml:"enabled"`
	Type    string  `yaml:"type"` // gaussian | gaussian_nonwhite
	Std     float64 `yaml:"std"`
}

// ROIConfig is an optional rectangular meta-loss window.
type ROIConfig struct {
	Top    int `yaml:"top"`
	Left   int `yaml:"left"`
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
}

// SolverConfig selects and tunes the inner reconstruction solver.
type SolverConfig struct {
	Kind       string  `yaml:"kind"` // langevin | wavelet | mvue
	Steps      int     `yaml:"steps"`
	StepSize   float64 `yaml:"step_size"`
	Levels     int     `yaml:"levels"`
	SigmaStart float64 `yaml:"sigma_start"`
	SigmaEnd   float64 `yaml:"sigma_end"`
	Lambda     float64 `yaml:"lambda"`
	Seed       int64   `yaml:"seed"`
}

// OuterConfig tunes the outer loop and the hyperparameter regularizer.
type OuterConfig struct {
	Iterations      int     `yaml:"iterations"`
	BatchesPerIter  int     `yaml:"batches_per_iter"`
	ValEvery        int     `yaml:"val_every"`
	Temperature     float64 `yaml:"temperature"`
	Regularizer     RegularizerConfig `yaml:"regularizer"`
}

// RegularizerConfig selects exactly one projection family and the optional
// explicit L1 penalty.
type RegularizerConfig struct {
	Family      string  `yaml:"family"` // none | soft | hard | clamp
	Scale       float64 `yaml:"scale"`
	ClampMin    float64 `yaml:"clamp_min"`
	ClampMax    float64 `yaml:"clamp_max"`
	NonnegClamp bool    `yaml:"nonneg_clamp"`
	L1Scale     float64 `yaml:"l1_scale"`
}

// OptimizerConfig selects the outer update rule and its schedule.
type OptimizerConfig struct {
	Kind         string      `yaml:"kind"` // adam | sgd
	LearningRate float64     `yaml:"learning_rate"`
	Decay        DecayConfig `yaml:"decay"`
}

// DecayConfig tunes exponential learning-rate decay.
type DecayConfig struct {
	Enabled bool    `yaml:"enabled"`
	Gamma   float64 `yaml:"gamma"`
	Policy  string  `yaml:"policy"` // every_iteration | on_plateau
}

// DataConfig sizes the synthetic dataset splits.
type DataConfig struct {
	TrainSamples int   `yaml:"train_samples"`
	ValSamples   int   `yaml:"val_samples"`
	TestSamples  int   `yaml:"test_samples"`
	BatchSize    int   `yaml:"batch_size"`
	Shuffle      bool  `yaml:"shuffle"`
	Seed         int64 `yaml:"seed"`
}

// CheckpointConfig controls snapshot output.
type CheckpointConfig struct {
	Dir   string `yaml:"dir"`
	Every int    `yaml:"every"`
}

// Default returns a small single-coil run that exercises every stage.
func Default() *Config {
	return &Config{
		Problem: ProblemConfig{
			Size:             64,
			Pattern:          "horizontal",
			Parameterization: "deterministic",
			WeightMode:       "direct",
			InitValue:        1,
			CenterWidth:      8,
		},
		Solver: SolverConfig{
			Kind:       "langevin",
			Steps:      30,
			StepSize:   0.5,
			Levels:     5,
			SigmaStart: 0.5,
			SigmaEnd:   0.01,
			Seed:       1,
		},
		Outer: OuterConfig{
			Iterations:     50,
			BatchesPerIter: 2,
			ValEvery:       5,
			Regularizer:    RegularizerConfig{Family: "none"},
		},
		Optimizer: OptimizerConfig{
			Kind:         "adam",
			LearningRate: 0.01,
			Decay:        DecayConfig{Gamma: 0.95, Policy: "every_iteration"},
		},
		Data: DataConfig{
			TrainSamples: 16,
			ValSamples:   4,
			TestSamples:  4,
			BatchSize:    4,
			Shuffle:      true,
			Seed:         7,
		},
		Checkpoint: CheckpointConfig{Dir: "checkpoints", Every: 10},
	}
}

// Load reads and validates a YAML configuration file. Missing sections fall
// back to the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, used to persist the run settings
// beside its checkpoints.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize configuration: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks every closed enum set and every cross-field constraint
// eagerly. A configuration that validates will not fail on an unsupported
// combination mid-run.
func (c *Config) Validate() error {
	if c.Problem.Size <= 0 {
		return bad("problem.size", "must be positive, got %d", c.Problem.Size)
	}
	pattern, err := hyperparam.ParsePattern(c.Problem.Pattern)
	if err != nil {
		return bad("problem.pattern", "%v", err)
	}
	switch c.Problem.Parameterization {
	case "deterministic":
	case "probabilistic":
		if pattern == hyperparam.Isotropic {
			return bad("problem.parameterization", "probabilistic masks need a positional pattern, not isotropic")
		}
	default:
		return bad("problem.parameterization", "unsupported parameterization %q", c.Problem.Parameterization)
	}
	mode, err := meta.ParseWeightMode(c.Problem.WeightMode)
	if err != nil {
		return bad("problem.weight_mode", "%v", err)
	}
	if c.Problem.Parameterization == "probabilistic" && mode == meta.WeightExp {
		return bad("problem.weight_mode", "probabilistic masks require the direct weight mode")
	}
	if c.Problem.CenterWidth < 0 {
		return bad("problem.center_width", "must not be negative, got %d", c.Problem.CenterWidth)
	}
	if c.Problem.Noise.Enabled {
		if _, err := operator.ParseNoiseType(c.Problem.Noise.Type); err != nil {
			return bad("problem.noise.type", "%v", err)
		}
		if c.Problem.Noise.Std < 0 {
			return bad("problem.noise.std", "must not be negative, got %g", c.Problem.Noise.Std)
		}
	}
	if c.Problem.Coils < 0 {
		return bad("problem.coils", "must not be negative, got %d", c.Problem.Coils)
	}
	if roi := c.Problem.ROI; roi != nil {
		if roi.Height <= 0 || roi.Width <= 0 {
			return bad("problem.roi", "window must have positive extent")
		}
		if roi.Top < 0 || roi.Left < 0 || roi.Top+roi.Height > c.Problem.Size || roi.Left+roi.Width > c.Problem.Size {
			return bad("problem.roi", "window exceeds the %dx%d image", c.Problem.Size, c.Problem.Size)
		}
	}

	switch c.Solver.Kind {
	case "langevin", "wavelet", "mvue":
	default:
		return bad("solver.kind", "unsupported solver kind %q", c.Solver.Kind)
	}

	if c.Outer.Iterations <= 0 {
		return bad("outer.iterations", "must be positive, got %d", c.Outer.Iterations)
	}
	if c.Outer.Temperature < 0 {
		return bad("outer.temperature", "must not be negative, got %g", c.Outer.Temperature)
	}
	family, err := optimizer.ParseFamily(c.Outer.Regularizer.Family)
	if err != nil {
		return bad("outer.regularizer.family", "%v", err)
	}
	switch family {
	case optimizer.FamilySoft, optimizer.FamilyHard:
		if c.Outer.Regularizer.Scale <= 0 {
			return bad("outer.regularizer.scale", "family %s needs a positive scale", family)
		}
	case optimizer.FamilyClamp:
		if c.Outer.Regularizer.ClampMin >= c.Outer.Regularizer.ClampMax {
			return bad("outer.regularizer", "clamp range [%g, %g] is empty",
				c.Outer.Regularizer.ClampMin, c.Outer.Regularizer.ClampMax)
		}
		if c.Outer.Regularizer.NonnegClamp {
			return bad("outer.regularizer", "nonneg_clamp and the clamp family are mutually exclusive")
		}
	}
	if c.Outer.Regularizer.L1Scale < 0 {
		return bad("outer.regularizer.l1_scale", "must not be negative, got %g", c.Outer.Regularizer.L1Scale)
	}

	switch c.Optimizer.Kind {
	case "adam", "sgd":
	default:
		return bad("optimizer.kind", "unsupported optimizer %q", c.Optimizer.Kind)
	}
	if c.Optimizer.LearningRate <= 0 {
		return bad("optimizer.learning_rate", "must be positive, got %g", c.Optimizer.LearningRate)
	}
	if c.Optimizer.Decay.Enabled {
		if _, err := optimizer.ParseDecayPolicy(c.Optimizer.Decay.Policy); err != nil {
			return bad("optimizer.decay.policy", "%v", err)
		}
		if c.Optimizer.Decay.Gamma <= 0 || c.Optimizer.Decay.Gamma >= 1 {
			return bad("optimizer.decay.gamma", "must lie in (0, 1), got %g", c.Optimizer.Decay.Gamma)
		}
	}

	if c.Data.TrainSamples <= 0 {
		return bad("data.train_samples", "must be positive, got %d", c.Data.TrainSamples)
	}
	if c.Data.ValSamples < 0 || c.Data.TestSamples < 0 {
		return bad("data", "split sizes must not be negative")
	}
	if c.Data.BatchSize <= 0 {
		return bad("data.batch_size", "must be positive, got %d", c.Data.BatchSize)
	}
	if c.Checkpoint.Every < 0 {
		return bad("checkpoint.every", "must not be negative, got %d", c.Checkpoint.Every)
	}
	return nil
}

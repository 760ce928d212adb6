package config

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/tlanc/masklearn/checkpoints"
	"github.com/tlanc/masklearn/hyperparam"
	"github.com/tlanc/masklearn/meta"
	"github.com/tlanc/masklearn/operator"
	"github.com/tlanc/masklearn/optimizer"
	"github.com/tlanc/masklearn/solver"
	"github.com/tlanc/masklearn/training"
)

// Build wires a validated configuration into a ready-to-run learner: the
// operator, hyperparameter, solver, optimizer, schedule, projection, data
// loaders and checkpoint saver.
func Build(cfg *Config, logger *log.Logger) (*meta.Learner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	size := cfg.Problem.Size
	pattern, err := hyperparam.ParsePattern(cfg.Problem.Pattern)
	if err != nil {
		return nil, err
	}
	mode, err := meta.ParseWeightMode(cfg.Problem.WeightMode)
	if err != nil {
		return nil, err
	}

	noise := operator.NoiseConfig{Enabled: cfg.Problem.Noise.Enabled, Std: cfg.Problem.Noise.Std}
	if noise.Enabled {
		if noise.Type, err = operator.ParseNoiseType(cfg.Problem.Noise.Type); err != nil {
			return nil, err
		}
	}
	op, err := operator.NewFourier(operator.FourierConfig{
		Height: size,
		Width:  size,
		Noise:  noise,
		Seed:   cfg.Data.Seed,
	})
	if err != nil {
		return nil, err
	}

	n, err := pattern.Len(size, size)
	if err != nil {
		return nil, err
	}
	var param meta.Param
	if cfg.Problem.Parameterization == "probabilistic" {
		keep := centerKeepIndices(pattern, size, n, cfg.Problem.CenterWidth)
		param, err = hyperparam.NewProbabilistic(pattern, size, size, cfg.Problem.InitValue, keep, nil)
	} else {
		param, err = hyperparam.NewDeterministic(pattern, size, size, cfg.Problem.InitValue)
	}
	if err != nil {
		return nil, err
	}

	like := &meta.Likelihood{
		A:        op,
		Mode:     mode,
		Pattern:  pattern,
		Scale:    cfg.Problem.LikelihoodScale,
		Autograd: cfg.Problem.UseAutograd,
	}

	slv, err := solver.New(cfg.Solver.Kind, op, solver.Config{
		Steps:      cfg.Solver.Steps,
		StepSize:   cfg.Solver.StepSize,
		Levels:     cfg.Solver.Levels,
		SigmaStart: cfg.Solver.SigmaStart,
		SigmaEnd:   cfg.Solver.SigmaEnd,
		Lambda:     cfg.Solver.Lambda,
		Seed:       cfg.Solver.Seed,
	}, logger)
	if err != nil {
		return nil, err
	}

	opt, err := optimizer.New(cfg.Optimizer.Kind, n, cfg.Optimizer.LearningRate)
	if err != nil {
		return nil, err
	}
	var sched *optimizer.ExponentialDecay
	if cfg.Optimizer.Decay.Enabled {
		policy, err := optimizer.ParseDecayPolicy(cfg.Optimizer.Decay.Policy)
		if err != nil {
			return nil, err
		}
		sched = optimizer.NewExponentialDecay(cfg.Optimizer.Decay.Gamma, policy)
	}

	family, err := optimizer.ParseFamily(cfg.Outer.Regularizer.Family)
	if err != nil {
		return nil, err
	}
	proj := &optimizer.Projection{
		Family:      family,
		Scale:       cfg.Outer.Regularizer.Scale,
		ClampMin:    cfg.Outer.Regularizer.ClampMin,
		ClampMax:    cfg.Outer.Regularizer.ClampMax,
		NonnegClamp: cfg.Outer.Regularizer.NonnegClamp,
	}
	// Probabilistic runs enforce the calibration region through the fixed
	// logit positions instead of the projection.
	if cfg.Problem.Parameterization == "deterministic" && cfg.Problem.CenterWidth > 0 {
		proj.CenterLo, proj.CenterHi = centerKeepRange(pattern, size, n, cfg.Problem.CenterWidth)
	}

	var roi *meta.ROI
	if r := cfg.Problem.ROI; r != nil {
		roi = &meta.ROI{Top: r.Top, Left: r.Left, Height: r.Height, Width: r.Width}
	}

	train, val, test, err := buildLoaders(cfg)
	if err != nil {
		return nil, err
	}

	var saver *checkpoints.Saver
	if cfg.Checkpoint.Dir != "" {
		if saver, err = checkpoints.NewSaver(cfg.Checkpoint.Dir, logger); err != nil {
			return nil, err
		}
	}

	learner := &meta.Learner{
		Config: meta.Config{
			Iterations:      cfg.Outer.Iterations,
			BatchesPerIter:  cfg.Outer.BatchesPerIter,
			ValEvery:        cfg.Outer.ValEvery,
			CheckpointEvery: cfg.Checkpoint.Every,
			Temperature:     cfg.Outer.Temperature,
			RestoreBest:     restoreBest(family, cfg.Outer.Regularizer.L1Scale),
			Seed:            cfg.Data.Seed,
		},
		Param:  param,
		Like:   like,
		Op:     op,
		Solver: slv,
		Opt:    opt,
		Sched:  sched,
		Proj:   proj,
		Reg:    &meta.Regularizer{L1Scale: cfg.Outer.Regularizer.L1Scale},
		ROI:    roi,
		Train:  train,
		Val:    val,
		Test:   test,
		Saver:  saver,
		Logger: logger,
	}
	return learner, nil
}

// restoreBest decides whether the best validated iterate replaces the final
// one before the test pass. Sparsity-seeking runs keep the final iterate so
// the tested mask reflects the enforced sparsity level.
func restoreBest(family optimizer.Family, l1 float64) bool {
	if family == optimizer.FamilySoft || family == optimizer.FamilyHard {
		return false
	}
	return l1 == 0
}

// centerKeepRange maps a calibration width to a contiguous flat index range
// of the pattern domain. For the full grid the central rows form a contiguous
// row-major block.
func centerKeepRange(pattern hyperparam.Pattern, size, n, width int) (lo, hi int) {
	switch pattern {
	case hyperparam.Row, hyperparam.Column:
		return hyperparam.CenterIndices(n, width)
	case hyperparam.Grid:
		rlo, rhi := hyperparam.CenterIndices(size, width)
		return rlo * size, rhi * size
	default:
		return 0, 0
	}
}

func centerKeepIndices(pattern hyperparam.Pattern, size, n, width int) []int {
	lo, hi := centerKeepRange(pattern, size, n, width)
	if hi <= lo {
		return nil
	}
	out := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}

func buildLoaders(cfg *Config) (train, val, test *training.Loader, err error) {
	size := cfg.Problem.Size
	coils := cfg.Problem.Coils

	mk := func(samples int, seed int64, shuffle bool) (*training.Loader, error) {
		if samples == 0 {
			return nil, nil
		}
		ds, err := training.NewSynthetic(samples, size, size, coils, seed)
		if err != nil {
			return nil, err
		}
		return training.NewLoader(ds, cfg.Data.BatchSize, shuffle, seed)
	}

	if train, err = mk(cfg.Data.TrainSamples, cfg.Data.Seed, cfg.Data.Shuffle); err != nil {
		return nil, nil, nil, fmt.Errorf("train split: %w", err)
	}
	if val, err = mk(cfg.Data.ValSamples, cfg.Data.Seed+1, false); err != nil {
		return nil, nil, nil, fmt.Errorf("val split: %w", err)
	}
	if test, err = mk(cfg.Data.TestSamples, cfg.Data.Seed+2, false); err != nil {
		return nil, nil, nil, fmt.Errorf("test split: %w", err)
	}
	return train, val, test, nil
}

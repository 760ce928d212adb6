package meta

import (
	"fmt"
	"math/rand"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/floats"

	"github.com/tlanc/masklearn/checkpoints"
	"github.com/tlanc/masklearn/hyperparam"
	"github.com/tlanc/masklearn/metrics"
	"github.com/tlanc/masklearn/operator"
	"github.com/tlanc/masklearn/optimizer"
	"github.com/tlanc/masklearn/solver"
	"github.com/tlanc/masklearn/tensor"
	"github.com/tlanc/masklearn/training"
)

// Param is the hyperparameter surface the outer loop optimizes. Both the
// deterministic and the probabilistic parameterizations satisfy it. The
// learner is the single writer: any in-place mutation of the flat vector is
// followed by Bump, and every published value carries the generation it was
// bumped to.
type Param interface {
	Pattern() hyperparam.Pattern
	Len() int
	Flat() []float64
	Values() *tensor.Tensor
	Clone() *tensor.Tensor
	Restore(v *tensor.Tensor) error
	Generation() uint64
	Bump()
}

// Config tunes the outer-loop cadence.
type Config struct {
	// Iterations is the number of outer steps.
	Iterations int

	// BatchesPerIter is the accumulation-window width in batches. Negative
	// consumes the whole training epoch per window; zero makes the window a
	// no-op.
	BatchesPerIter int

	// ValEvery runs a validation pass every that many iterations; 0 disables.
	ValEvery int

	// CheckpointEvery writes a snapshot every that many iterations; 0 keeps
	// only the final one.
	CheckpointEvery int

	// Temperature is the relaxed-Bernoulli sampling temperature for
	// probabilistic runs.
	Temperature float64

	// RestoreBest reinstates the best validation hyperparameter before the
	// test pass. Sparsity-regularized runs keep the last iterate instead.
	RestoreBest bool

	Seed int64
}

// Learner drives the bi-level optimization: the per-window
// accumulate, normalize, step, resync cycle, validation and test passes,
// best-value tracking and checkpointing. Collaborators are plain fields; Run
// validates them once up front.
type Learner struct {
	Config Config
	Param  Param
	Like   *Likelihood
	Op     operator.Operator
	Solver solver.Solver
	Opt    optimizer.Optimizer
	Sched  *optimizer.ExponentialDecay
	Proj   *optimizer.Projection
	Reg    *Regularizer
	ROI    *ROI

	Train *training.Loader
	Val   *training.Loader
	Test  *training.Loader

	Store  *metrics.Store
	Saver  *checkpoints.Saver
	Logger *log.Logger

	prob        *hyperparam.Probabilistic
	iter        int
	cHistory    [][]float64
	gradNorms   []float64
	bestC       *tensor.Tensor
	bestTracker *metrics.Tracker
	rng         *rand.Rand
	ready       bool
}

func (l *Learner) init() error {
	if l.ready {
		return nil
	}
	if l.Param == nil || l.Like == nil || l.Op == nil || l.Solver == nil || l.Opt == nil {
		return fmt.Errorf("learner is missing a collaborator")
	}
	if l.Train == nil {
		return fmt.Errorf("learner needs a training loader")
	}
	if p, ok := l.Param.(*hyperparam.Probabilistic); ok {
		l.prob = p
		if l.Config.Temperature <= 0 {
			l.Config.Temperature = 1
		}
		if l.Like.Mode != WeightDirect {
			return fmt.Errorf("probabilistic masks require the direct weight mode")
		}
	}
	if l.Store == nil {
		l.Store = metrics.NewStore()
	}
	if l.bestTracker == nil {
		l.bestTracker = metrics.NewTracker(true)
	}
	if l.rng == nil {
		l.rng = rand.New(rand.NewSource(l.Config.Seed))
	}
	l.ready = true
	return nil
}

// Iteration returns the number of completed outer iterations.
func (l *Learner) Iteration() int { return l.iter }

// BestC returns the best validated hyperparameter, nil before any
// improvement.
func (l *Learner) BestC() *tensor.Tensor { return l.bestC }

// CHistory returns the post-projection hyperparameter of every completed
// iteration.
func (l *Learner) CHistory() [][]float64 { return l.cHistory }

// GradNorms returns the accumulated-gradient norm of every completed
// iteration.
func (l *Learner) GradNorms() []float64 { return l.gradNorms }

// Run executes the full meta-optimization: training iterations with
// validation and checkpoint cadences, then the test pass.
func (l *Learner) Run() error {
	if err := l.init(); err != nil {
		return err
	}
	if err := l.publish(); err != nil {
		return err
	}
	l.Train.Reset()

	for l.iter < l.Config.Iterations {
		if err := l.TrainStep(); err != nil {
			return err
		}
		l.iter++

		if l.Sched != nil && l.Sched.Policy == optimizer.DecayEveryIteration {
			oldLR, newLR := l.Sched.Decay(l.Opt)
			l.logDebug("learning rate decayed", "iter", l.iter, "old", oldLR, "new", newLR)
		}

		if l.Config.ValEvery > 0 && l.iter%l.Config.ValEvery == 0 && l.Val != nil {
			if err := l.validate(); err != nil {
				return err
			}
		}

		if l.Saver != nil && l.Config.CheckpointEvery > 0 && l.iter%l.Config.CheckpointEvery == 0 {
			if _, err := l.Saver.Save(fmt.Sprintf("iter_%05d", l.iter), l.Snapshot()); err != nil {
				return err
			}
		}
	}

	if l.Config.RestoreBest && l.bestC != nil {
		if err := l.Param.Restore(l.bestC); err != nil {
			return err
		}
		if err := l.publish(); err != nil {
			return err
		}
		l.logInfo("restored best hyperparameter for test", "metric", l.bestTracker.Best())
	}

	if l.Test != nil {
		summ, err := l.evaluate("test", l.Test)
		if err != nil {
			return err
		}
		if s, ok := summ["psnr"]; ok {
			l.logInfo("test pass complete", "psnr", s.Mean, "std", s.Std)
		}
	}

	if l.Saver != nil {
		if _, err := l.Saver.Save("final", l.Snapshot()); err != nil {
			return err
		}
	}
	return nil
}

// TrainStep runs one accumulation window: gradients sum over the configured
// number of batches, are normalized by the total sample count, and drive one
// optimizer step followed by the projection and the resync publication.
func (l *Learner) TrainStep() error {
	if err := l.init(); err != nil {
		return err
	}
	if l.Config.BatchesPerIter == 0 {
		return nil
	}

	acc := make([]float64, l.Param.Len())
	samples := 0
	batches := 0
	want := l.Config.BatchesPerIter
	if want < 0 {
		l.Train.Reset()
	}

	for want < 0 || batches < want {
		batch, err := l.Train.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			if want < 0 {
				break
			}
			l.Train.Reset()
			if batch, err = l.Train.Next(); err != nil {
				return err
			}
			if batch == nil {
				return fmt.Errorf("training loader yielded no batches")
			}
		}
		n, err := l.accumulateBatch(batch, acc)
		if err != nil {
			return err
		}
		samples += n
		batches++
	}
	if samples == 0 {
		return fmt.Errorf("accumulation window saw no samples")
	}

	// NORMALIZE by sample count, not batch count. The explicit penalty is
	// data-independent and enters once per window, after normalization.
	floats.Scale(1/float64(samples), acc)
	if rg := l.Reg.Grad(l.Param.Flat()); rg != nil {
		floats.Add(acc, rg)
	}

	// STEP, projection, RESYNC.
	if err := l.Opt.Step(l.Param.Flat(), acc); err != nil {
		return err
	}
	if l.Proj != nil {
		l.Proj.Apply(l.Param.Flat())
	}
	l.Param.Bump()
	if err := l.publish(); err != nil {
		return err
	}

	l.cHistory = append(l.cHistory, append([]float64{}, l.Param.Flat()...))
	gnorm := floats.Norm(acc, 2)
	l.gradNorms = append(l.gradNorms, gnorm)
	l.Store.Add("train", "grad_norm", gnorm)
	l.Store.Add("train", "c_nonzero", float64(nonzero(l.Param.Flat())))

	summ := l.Store.Commit("train")
	if s, ok := summ["meta_loss"]; ok {
		l.logInfo("outer step", "iter", l.iter+1, "meta_loss", s.Mean, "grad_norm", gnorm, "lr", l.Opt.LearningRate())
	}
	return nil
}

// accumulateBatch runs the ACCUMULATE state for one batch, adding its
// hypergradient contribution into acc and returning the batch sample count.
func (l *Learner) accumulateBatch(batch *training.Batch, acc []float64) (int, error) {
	// Probabilistic runs reconstruct against a fresh relaxed-Bernoulli draw.
	// A draw changes the effective published value, so it advances the
	// generation and is pushed to every reader before the solve.
	var sample *hyperparam.MaskSample
	cvec := l.Param.Values()
	if l.prob != nil {
		var err error
		sample, err = l.prob.SampleMask(l.Config.Temperature, l.rng)
		if err != nil {
			return 0, err
		}
		cvec = sample.Mask
		l.Param.Bump()
		if err := l.publishVector(cvec); err != nil {
			return 0, err
		}
	}
	if err := l.checkSync(); err != nil {
		return 0, err
	}

	l.Op.SetCoilMaps(batch.CoilMaps)
	y, err := l.Op.Forward(batch.Images, true)
	if err != nil {
		return 0, err
	}
	xInit, err := l.Op.Adjoint(y)
	if err != nil {
		return 0, err
	}
	xHat, err := l.Solver.Reconstruct(xInit, y)
	if err != nil {
		return 0, err
	}

	gx, err := MetaGrad(xHat, batch.Images, l.ROI)
	if err != nil {
		return 0, err
	}
	ax, err := l.Op.Forward(xHat, false)
	if err != nil {
		return 0, err
	}
	resid, err := tensor.Sub(ax, y)
	if err != nil {
		return 0, err
	}

	hv, err := HVP(l.Like, cvec, resid, gx)
	if err != nil {
		return 0, err
	}
	grad := tensor.Neg(hv)
	if sample != nil {
		if grad, err = l.prob.ChainGrad(grad, sample); err != nil {
			return 0, err
		}
	}
	floats.Add(acc, grad.Data)

	if err := l.recordBatch("train", cvec, batch, xHat, y, resid); err != nil {
		return 0, err
	}
	return batch.Size(), nil
}

// recordBatch pushes per-batch scalar metrics into the store: reconstruction
// quality, the outer loss, and the weighted versus unweighted measurement
// losses.
func (l *Learner) recordBatch(phase string, cvec *tensor.Tensor, batch *training.Batch, xHat, y, resid *tensor.Tensor) error {
	mloss, err := MetaLoss(xHat, batch.Images, l.ROI)
	if err != nil {
		return err
	}
	l.Store.Add(phase, "meta_loss", mloss/float64(batch.Size()))
	l.Store.Add(phase, "psnr", metrics.PSNR(xHat, batch.Images)...)
	l.Store.Add(phase, "nmse", metrics.NMSE(xHat, batch.Images)...)

	weighted, err := l.Like.Loss(cvec, xHat, y)
	if err != nil {
		return err
	}
	l.Store.Add(phase, "loss_weighted", weighted/float64(batch.Size()))
	if resid != nil {
		l.Store.Add(phase, "loss_real", 0.5*tensor.SumSquares(resid)/float64(batch.Size()))
	}
	return nil
}

// validate runs the validation pass, tracks the best hyperparameter by mean
// PSNR, and fires plateau decay when the metric fails to improve.
func (l *Learner) validate() error {
	summ, err := l.evaluate("val", l.Val)
	if err != nil {
		return err
	}
	s, ok := summ["psnr"]
	if !ok {
		return fmt.Errorf("validation pass produced no psnr metric")
	}
	if l.bestTracker.Observe(s.Mean) {
		l.bestC = l.Param.Clone()
		l.logInfo("new best hyperparameter", "iter", l.iter, "psnr", s.Mean)
	} else if l.Sched != nil && l.Sched.Policy == optimizer.DecayOnPlateau {
		oldLR, newLR := l.Sched.Decay(l.Opt)
		l.logInfo("validation plateau, learning rate decayed", "iter", l.iter, "old", oldLR, "new", newLR)
	}
	return nil
}

// evaluate runs one full pass over a loader without touching gradients.
// Probabilistic runs are evaluated against the most-likely mask; the draw-free
// view is what a deployed mask would be.
func (l *Learner) evaluate(phase string, loader *training.Loader) (map[string]metrics.Summary, error) {
	if err := l.init(); err != nil {
		return nil, err
	}
	if l.prob != nil {
		l.Param.Bump()
		if err := l.publishVector(l.prob.MostLikelyMask()); err != nil {
			return nil, err
		}
	} else if err := l.publish(); err != nil {
		return nil, err
	}

	loader.Reset()
	for {
		batch, err := loader.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}
		if err := l.checkSync(); err != nil {
			return nil, err
		}
		l.Op.SetCoilMaps(batch.CoilMaps)
		y, err := l.Op.Forward(batch.Images, true)
		if err != nil {
			return nil, err
		}
		xInit, err := l.Op.Adjoint(y)
		if err != nil {
			return nil, err
		}
		xHat, err := l.Solver.Reconstruct(xInit, y)
		if err != nil {
			return nil, err
		}
		cvec := l.Param.Values()
		if l.prob != nil {
			cvec = l.prob.MostLikelyMask()
		}
		if err := l.recordBatch(phase, cvec, batch, xHat, y, nil); err != nil {
			return nil, err
		}
	}
	return l.Store.Commit(phase), nil
}

// publish pushes the current hyperparameter to every reader: the operator's
// stored weight grid and the solver's parameter copy. Publication always
// hands out evaluated weight grids, never the raw vector, so readers stay
// agnostic of the weight mode. For probabilistic runs the published view is
// the expected mask; training batches re-publish their own draws.
func (l *Learner) publish() error {
	if l.prob != nil {
		return l.publishVector(l.prob.ExpectedMask())
	}
	grid, err := l.Like.WeightGrid(l.Param.Values())
	if err != nil {
		return err
	}
	l.Op.SetWeights(grid)
	l.Solver.SetParameter(grid, l.Param.Generation())
	return nil
}

// publishVector spreads a flat pattern-domain vector and installs it.
func (l *Learner) publishVector(flat *tensor.Tensor) error {
	h, w := l.Op.ImageShape()
	grid, err := hyperparam.SpreadGrid(flat, l.Param.Pattern(), h, w)
	if err != nil {
		return err
	}
	l.Op.SetWeights(grid)
	l.Solver.SetParameter(grid, l.Param.Generation())
	return nil
}

// checkSync asserts the solver holds the current generation before any
// reconstruction or hypergradient.
func (l *Learner) checkSync() error {
	if got := l.Solver.Generation(); got != l.Param.Generation() {
		return &StateConsistencyError{ParamGeneration: l.Param.Generation(), SolverGeneration: got}
	}
	return nil
}

// Snapshot exports the learner's full mutable state.
func (l *Learner) Snapshot() *checkpoints.Snapshot {
	snap := &checkpoints.Snapshot{
		C:              append([]float64{}, l.Param.Flat()...),
		CHistory:       cloneHistory(l.cHistory),
		GradNorms:      append([]float64{}, l.gradNorms...),
		Iteration:      l.iter,
		LearningRate:   l.Opt.LearningRate(),
		OptimizerState: l.Opt.State(),
		Metrics:        l.Store.Export(),
	}
	if l.bestC != nil {
		snap.BestC = append([]float64{}, l.bestC.Data...)
		snap.BestMetric = l.bestTracker.Best()
		snap.HasBest = true
	}
	return snap
}

// RestoreSnapshot resumes a run from a snapshot: hyperparameter, history,
// best value, iteration counter, optimizer moments and learning rate. The
// restored value is published immediately.
func (l *Learner) RestoreSnapshot(snap *checkpoints.Snapshot) error {
	if err := l.init(); err != nil {
		return err
	}
	if len(snap.C) != l.Param.Len() {
		return fmt.Errorf("snapshot hyperparameter length %d does not match run length %d", len(snap.C), l.Param.Len())
	}
	v, err := tensor.New([]int{len(snap.C)}, append([]float64{}, snap.C...))
	if err != nil {
		return err
	}
	if err := l.Param.Restore(v); err != nil {
		return err
	}
	l.iter = snap.Iteration
	l.cHistory = cloneHistory(snap.CHistory)
	l.gradNorms = append([]float64{}, snap.GradNorms...)
	if snap.OptimizerState != nil {
		if err := l.Opt.LoadState(snap.OptimizerState); err != nil {
			return err
		}
	}
	if snap.LearningRate > 0 {
		l.Opt.UpdateLearningRate(snap.LearningRate)
	}
	if snap.HasBest {
		best, err := tensor.New([]int{len(snap.BestC)}, append([]float64{}, snap.BestC...))
		if err != nil {
			return err
		}
		l.bestC = best
		l.bestTracker.SetBest(snap.BestMetric)
	}
	if snap.Metrics != nil {
		l.Store.Import(snap.Metrics)
	}
	return l.publish()
}

func (l *Learner) logInfo(msg string, kv ...any) {
	if l.Logger != nil {
		l.Logger.Info(msg, kv...)
	}
}

func (l *Learner) logDebug(msg string, kv ...any) {
	if l.Logger != nil {
		l.Logger.Debug(msg, kv...)
	}
}

func nonzero(v []float64) int {
	n := 0
	for _, x := range v {
		if x != 0 {
			n++
		}
	}
	return n
}

func cloneHistory(h [][]float64) [][]float64 {
	out := make([][]float64, len(h))
	for i, row := range h {
		out[i] = append([]float64{}, row...)
	}
	return out
}

package meta

import "fmt"

// StateConsistencyError reports an attempt to run a reconstruction or form a
// hypergradient against a hyperparameter value the inner solver was never
// resynced to. It indicates a broken publish ordering and is fatal; the run
// must not continue on a stale parameter.
type StateConsistencyError struct {
	ParamGeneration  uint64
	SolverGeneration uint64
}

func (e *StateConsistencyError) Error() string {
	return fmt.Sprintf("solver parameter is stale: hyperparameter generation %d, solver synced to %d",
		e.ParamGeneration, e.SolverGeneration)
}

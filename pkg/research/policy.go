package research

import "fmt"

// FinishThreshold is the sufficiency score at which the Manager's assessment
// counts as finished even if it did not say so.
const FinishThreshold = 95

// Override records a policy decision that contradicted the Manager.
type Override string

const (
	OverrideNone Override = ""
	// OverrideMinIterations forces more exploration in deep mode.
	OverrideMinIterations Override = "min_iterations"
	// OverrideMaxIterations forces the Writer once the iteration cap is hit.
	OverrideMaxIterations Override = "max_iterations"
)

// Decision is the outcome of the manager -> {writer | worker} transition.
type Decision struct {
	Finished bool
	Override Override
}

// Next is the state the run moves to.
func (d Decision) Next() AgentState {
	if d.Finished {
		return StateWriter
	}
	return StateWorker
}

// PolicyViolationError means a decision broke an iteration bound. It indicates
// a bug, not a recoverable condition.
type PolicyViolationError struct {
	Iteration int
	Reason    string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation at iteration %d: %s", e.Iteration, e.Reason)
}

// Decide applies the Iteration Policy to the Manager's assessment at iteration.
func Decide(cfg RunConfig, iteration int, out ManagerOutput) Decision {
	d := Decision{Finished: out.IsFinished || out.SufficiencyScore >= FinishThreshold}
	if cfg.Mode != ModeDeep {
		return d
	}

	if iteration < cfg.MinIterations && d.Finished {
		d.Finished = false
		d.Override = OverrideMinIterations
	}
	if cfg.Bounded() && iteration >= cfg.MaxIterations {
		d.Finished = true
		d.Override = OverrideMaxIterations
	}
	return d
}

// Check verifies d against the bounds of cfg.
func (d Decision) Check(cfg RunConfig, iteration int) error {
	if cfg.Mode != ModeDeep {
		return nil
	}
	capped := cfg.Bounded() && iteration >= cfg.MaxIterations
	if d.Finished && iteration < cfg.MinIterations && !capped {
		return &PolicyViolationError{Iteration: iteration, Reason: fmt.Sprintf("writer before minimum of %d iterations", cfg.MinIterations)}
	}
	if !d.Finished && capped {
		return &PolicyViolationError{Iteration: iteration, Reason: fmt.Sprintf("worker beyond maximum of %d iterations", cfg.MaxIterations)}
	}
	return nil
}

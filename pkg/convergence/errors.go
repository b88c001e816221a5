package convergence

import "fmt"

// ArgumentError signals a caller precondition violation.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("convergence: %s", e.Msg)
}

// OrchestratorDeniedError is raised when the orchestrator refuses a
// resume/suspend request. It is absorbed by the tick loop and retried on the
// next tick.
type OrchestratorDeniedError struct {
	Op     string
	Reason string
}

func (e *OrchestratorDeniedError) Error() string {
	return fmt.Sprintf("convergence: orchestrator denied %s: %s", e.Op, e.Reason)
}

// ConvergenceNotYetError means the node-admin subsystem has not converged to
// the requested freeze state yet. It is absorbed by the tick loop and
// retried, escalating to a forced unfreeze after a sustained stuck freeze.
type ConvergenceNotYetError struct {
	Reason string
}

func (e *ConvergenceNotYetError) Error() string {
	return fmt.Sprintf("convergence: not yet converged: %s", e.Reason)
}

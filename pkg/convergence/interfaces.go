package convergence

import (
	"context"
	"time"

	"github.com/cuemby/hostctl/pkg/domain"
)

// Orchestrator grants or denies permission to suspend or resume a host.
// A denial must be returned as *OrchestratorDeniedError.
type Orchestrator interface {
	Resume(ctx context.Context, host string) error
	Suspend(ctx context.Context, host string, hostnames []string) error
}

// NodeAdmin drives container lifecycle on the local host.
type NodeAdmin interface {
	// SetFrozen requests the subsystem to freeze or unfreeze container
	// mutation. It returns true once the subsystem has converged to the
	// requested state.
	SetFrozen(ctx context.Context, frozen bool) (bool, error)

	// SubsystemFreezeDuration reports how long the subsystem has been
	// attempting to reach its currently requested freeze state.
	SubsystemFreezeDuration() time.Duration

	RefreshContainersToRun(ctx context.Context, containers []domain.ContainerSpec) error
	StopNodeAgentServices(ctx context.Context, hostnames []string) error
	DebugInfo() map[string]any
	Shutdown() error
}

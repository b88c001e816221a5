// Package orchestratorref supplies a reference convergence.Orchestrator for
// local trials: an in-memory gate that can optionally deny a configurable
// number of requests before allowing them, for exercising the convergence
// loop's denial-retry behavior without a real cluster orchestrator.
package orchestratorref

import (
	"context"
	"sync"

	"github.com/cuemby/hostctl/pkg/convergence"
)

// Gate is an in-memory Orchestrator. DenyNext, if positive, counts down on
// each Suspend call and returns *convergence.OrchestratorDeniedError until
// it reaches zero; Resume always succeeds.
type Gate struct {
	mu       sync.Mutex
	DenyNext int
}

// New returns a Gate that allows every request.
func New() *Gate {
	return &Gate{}
}

func (g *Gate) Resume(context.Context, string) error {
	return nil
}

func (g *Gate) Suspend(_ context.Context, _ string, _ []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.DenyNext > 0 {
		g.DenyNext--
		return &convergence.OrchestratorDeniedError{Op: "suspend", Reason: "orchestratorref: denied by configured countdown"}
	}
	return nil
}

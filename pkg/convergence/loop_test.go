package convergence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hostctl/pkg/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNodeAdmin struct {
	mu sync.Mutex

	setFrozenFunc  func(frozen bool) (bool, error)
	freezeDuration time.Duration

	refreshErr        error
	stopErr           error
	refreshCount      int
	stopCount         int
	lastRefresh       []domain.ContainerSpec
	lastStopHostnames []string
	shutdownCalled    bool
}

func (f *fakeNodeAdmin) SetFrozen(_ context.Context, frozen bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setFrozenFunc != nil {
		return f.setFrozenFunc(frozen)
	}
	return true, nil
}

func (f *fakeNodeAdmin) SubsystemFreezeDuration() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freezeDuration
}

func (f *fakeNodeAdmin) RefreshContainersToRun(_ context.Context, containers []domain.ContainerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCount++
	f.lastRefresh = containers
	return f.refreshErr
}

func (f *fakeNodeAdmin) StopNodeAgentServices(_ context.Context, hostnames []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCount++
	f.lastStopHostnames = hostnames
	return f.stopErr
}

func (f *fakeNodeAdmin) DebugInfo() map[string]any {
	return map[string]any{"fake": true}
}

func (f *fakeNodeAdmin) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdownCalled = true
	return nil
}

type fakeOrchestrator struct {
	mu sync.Mutex

	resumeFunc  func(host string) error
	suspendFunc func(host string, hostnames []string) error

	resumeCount  int
	suspendCount int
}

func (f *fakeOrchestrator) Resume(_ context.Context, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCount++
	if f.resumeFunc != nil {
		return f.resumeFunc(host)
	}
	return nil
}

func (f *fakeOrchestrator) Suspend(_ context.Context, host string, hostnames []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspendCount++
	if f.suspendFunc != nil {
		return f.suspendFunc(host, hostnames)
	}
	return nil
}

type fakeNodeRepository struct {
	mu         sync.Mutex
	containers []domain.ContainerSpec
	err        error
}

func (f *fakeNodeRepository) GetContainersToRun(context.Context) ([]domain.ContainerSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.containers, nil
}

func (f *fakeNodeRepository) GetNodes(context.Context, string, ...domain.NodeState) ([]domain.Node, error) {
	return nil, nil
}

func (f *fakeNodeRepository) PutNodes(context.Context, []domain.Node) error {
	return nil
}

func newTestLoop(repo domain.NodeRepository, orch Orchestrator, admin NodeAdmin) *Loop {
	return New(Config{
		Host:           "host-1",
		NodeRepository: repo,
		Orchestrator:   orch,
		NodeAdmin:      admin,
		Logger:         zerolog.Nop(),
	})
}

func TestResumeFromInitial(t *testing.T) {
	repo := &fakeNodeRepository{containers: []domain.ContainerSpec{}}
	orch := &fakeOrchestrator{}
	admin := &fakeNodeAdmin{}
	l := newTestLoop(repo, orch, admin)

	require.Equal(t, StateSuspendedNodeAdmin, l.currentState)

	l.SetWantedState(StateResumed)
	l.tick()

	assert.Equal(t, StateResumed, l.currentState)
	assert.Equal(t, 1, orch.resumeCount)
	assert.Equal(t, 1, admin.refreshCount, "fetchContainersToRun should run once RESUMED")
}

func TestSuspendDeniedThenAllowed(t *testing.T) {
	repo := &fakeNodeRepository{}
	orch := &fakeOrchestrator{}
	admin := &fakeNodeAdmin{}
	l := newTestLoop(repo, orch, admin)
	l.currentState = StateResumed
	l.wantedState = StateResumed

	denied := true
	orch.suspendFunc = func(string, []string) error {
		if denied {
			return &OrchestratorDeniedError{Op: "suspend", Reason: "test denial"}
		}
		return nil
	}

	l.SetWantedState(StateSuspended)

	l.tick() // tick 1: freeze ok, suspend denied
	assert.Equal(t, StateResumed, l.currentState)

	denied = false
	l.tick() // tick 2: suspend ok -> SUSPENDED_NODE_ADMIN
	assert.Equal(t, StateSuspendedNodeAdmin, l.currentState)

	l.tick() // tick 3: stop services -> SUSPENDED
	assert.Equal(t, StateSuspended, l.currentState)
	assert.Equal(t, 1, admin.stopCount)
}

func TestStuckFreezeForcesUnfreezeAfterFiveMinutes(t *testing.T) {
	repo := &fakeNodeRepository{}
	orch := &fakeOrchestrator{}
	unfreezeCalls := 0
	admin := &fakeNodeAdmin{
		setFrozenFunc: func(frozen bool) (bool, error) {
			if frozen {
				return false, nil // freeze never converges
			}
			unfreezeCalls++
			return true, nil
		},
	}
	l := newTestLoop(repo, orch, admin)
	l.currentState = StateResumed
	l.wantedState = StateResumed
	l.SetWantedState(StateSuspended)

	admin.freezeDuration = 1 * time.Minute
	l.tick()
	assert.Equal(t, StateResumed, l.currentState, "still stuck, no force yet")
	assert.Equal(t, 0, unfreezeCalls, "no forced unfreeze below 5 minutes")

	admin.freezeDuration = 6 * time.Minute
	l.tick()
	assert.Equal(t, 1, unfreezeCalls, "stuck freeze past 5 minutes forces one unfreeze")
	assert.Equal(t, StateResumed, l.currentState, "forced unfreeze doesn't change currentState by itself")

	// Next tick retries normally; freeze is still stuck (setFrozenFunc always
	// denies freeze), so state remains RESUMED.
	l.tick()
	assert.Equal(t, StateResumed, l.currentState)
}

func TestMonotoneTransitionsPerTick(t *testing.T) {
	repo := &fakeNodeRepository{}
	orch := &fakeOrchestrator{}
	admin := &fakeNodeAdmin{}
	l := newTestLoop(repo, orch, admin)
	l.currentState = StateResumed
	l.wantedState = StateResumed
	l.SetWantedState(StateSuspended)

	l.tick()
	assert.Equal(t, StateSuspendedNodeAdmin, l.currentState, "only one step advances per tick")

	l.tick()
	assert.Equal(t, StateSuspended, l.currentState)
}

func TestFetchContainersToRunSkippedWhenNotResumed(t *testing.T) {
	repo := &fakeNodeRepository{}
	orch := &fakeOrchestrator{}
	admin := &fakeNodeAdmin{}
	l := newTestLoop(repo, orch, admin)

	l.fetchContainersToRun()
	assert.Equal(t, 0, admin.refreshCount)
}

func TestFetchContainersToRunWarnsOnRepositoryError(t *testing.T) {
	repo := &fakeNodeRepository{err: assert.AnError}
	orch := &fakeOrchestrator{}
	admin := &fakeNodeAdmin{}
	l := newTestLoop(repo, orch, admin)
	l.currentState = StateResumed

	l.fetchContainersToRun()
	assert.Equal(t, 0, admin.refreshCount)
}

func TestSetWantedStateReturnsCurrentMatch(t *testing.T) {
	repo := &fakeNodeRepository{}
	orch := &fakeOrchestrator{}
	admin := &fakeNodeAdmin{}
	l := newTestLoop(repo, orch, admin)

	assert.True(t, l.SetWantedState(StateSuspendedNodeAdmin), "already at that state")
	assert.False(t, l.SetWantedState(StateResumed))
}

func TestStartStopLifecycle(t *testing.T) {
	repo := &fakeNodeRepository{}
	orch := &fakeOrchestrator{}
	admin := &fakeNodeAdmin{}
	l := newTestLoop(repo, orch, admin)

	require.NoError(t, l.Start(10*time.Millisecond))
	assert.Error(t, l.Start(10*time.Millisecond), "second start must fail")

	l.SetWantedState(StateResumed)
	require.Eventually(t, func() bool {
		return l.GetDebug()["current"] == StateResumed.String()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Stop())
	assert.Error(t, l.Stop(), "second stop must fail")
	assert.True(t, admin.shutdownCalled)
}

// Package convergence implements the host agent's tick loop: it drives a
// host's currentState toward an externally requested wantedState by gating
// every transition on the node-admin driver and the cluster orchestrator,
// and keeps the host's running containers in sync with the node repository
// whenever it is RESUMED.
package convergence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/hostctl/internal/obsmetrics"
	"github.com/cuemby/hostctl/pkg/domain"
	"github.com/rs/zerolog"
)

const forcedUnfreezeThreshold = 5 * time.Minute

// Config configures a new Loop.
type Config struct {
	Host           string
	NodeRepository domain.NodeRepository
	Orchestrator   Orchestrator
	NodeAdmin      NodeAdmin
	Logger         zerolog.Logger
}

// Loop is a single host agent's convergence loop. Exactly one background
// worker runs per Loop; wantedState, currentState, workPending and lastTick
// are guarded by mu and signaled through cond, matching the one-monitor
// design called for by the tick loop's wait/signal predicate.
type Loop struct {
	host           string
	nodeRepository domain.NodeRepository
	orchestrator   Orchestrator
	nodeAdmin      NodeAdmin
	logger         zerolog.Logger

	mu           sync.Mutex
	cond         *sync.Cond
	wantedState  State
	currentState State
	workPending  bool
	terminated   bool
	started      bool
	lastTick     time.Time
	tickInterval time.Duration

	done chan struct{}
}

// New creates a Loop. currentState starts at SUSPENDED_NODE_ADMIN and
// wantedState starts equal to it, so the loop is idle until a caller asks
// for something else via SetWantedState.
func New(cfg Config) *Loop {
	l := &Loop{
		host:           cfg.Host,
		nodeRepository: cfg.NodeRepository,
		orchestrator:   cfg.Orchestrator,
		nodeAdmin:      cfg.NodeAdmin,
		logger:         cfg.Logger,
		currentState:   StateSuspendedNodeAdmin,
		wantedState:    StateSuspendedNodeAdmin,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// SetWantedState records the new target and wakes the loop if it changed.
// It returns whether currentState already equals s, without waiting for
// convergence.
func (l *Loop) SetWantedState(s State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.wantedState != s {
		l.wantedState = s
		l.workPending = true
		l.cond.Broadcast()
	}
	return l.currentState == s
}

// GetDebug returns a best-effort snapshot of the loop's state.
func (l *Loop) GetDebug() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]any{
		"host":      l.host,
		"wanted":    l.wantedState.String(),
		"current":   l.currentState.String(),
		"nodeAdmin": l.nodeAdmin.DebugInfo(),
	}
}

// Start begins the periodic reconciliation. It fails if already started.
func (l *Loop) Start(interval time.Duration) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return errors.New("convergence: loop already started")
	}
	l.started = true
	l.tickInterval = interval
	l.lastTick = time.Now()
	l.mu.Unlock()

	l.done = make(chan struct{})
	go l.run()
	return nil
}

// Stop sets terminated, wakes the loop, joins within 10s, then shuts down
// the node-admin driver regardless of whether the join completed. A second
// call fails.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return errors.New("convergence: loop already stopped")
	}
	l.terminated = true
	l.cond.Broadcast()
	done := l.done
	l.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			l.logger.Warn().Msg("convergence loop did not join within 10s, shutting down node admin anyway")
		}
	}
	return l.nodeAdmin.Shutdown()
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		if !l.waitForWork() {
			return
		}
		l.tick()
	}
}

// waitForWork blocks until workPending, the tick interval elapses, or
// terminated is set. It returns false iff the loop should exit. Spurious
// wakeups are tolerated: the predicate is re-checked in a loop.
func (l *Loop) waitForWork() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for !l.terminated && !l.workPending {
		elapsed := time.Since(l.lastTick)
		remaining := l.tickInterval - elapsed
		if remaining <= 0 {
			break
		}

		timer := time.AfterFunc(remaining, func() {
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		})
		l.cond.Wait()
		timer.Stop()
	}

	terminated := l.terminated
	l.lastTick = time.Now()
	l.workPending = false
	return !terminated
}

func (l *Loop) tick() {
	obsmetrics.ConvergenceTicksTotal.Inc()

	l.mu.Lock()
	wanted, current := l.wantedState, l.currentState
	l.mu.Unlock()

	convergedThisTick := current == wanted
	if !convergedThisTick {
		ctx := context.Background()
		err := l.converge(ctx, wanted)
		l.classifyOutcome(wanted, err)
		convergedThisTick = err == nil

		if wanted != StateResumed && !convergedThisTick {
			if freezeDuration := l.nodeAdmin.SubsystemFreezeDuration(); freezeDuration > forcedUnfreezeThreshold {
				l.logger.Warn().Dur("freeze_duration", freezeDuration).
					Msg("forcing node admin unfreeze after a stuck freeze")
				if _, uerr := l.nodeAdmin.SetFrozen(ctx, false); uerr != nil {
					l.logger.Error().Err(uerr).Msg("forced unfreeze failed")
				}
				obsmetrics.ConvergenceForcedUnfreezeTotal.Inc()
			}
		}
	}

	l.fetchContainersToRun()
}

func (l *Loop) classifyOutcome(target State, err error) {
	var denied *OrchestratorDeniedError
	var notYet *ConvergenceNotYetError

	switch {
	case err == nil:
		obsmetrics.ConvergenceOutcomesTotal.WithLabelValues("success").Inc()
	case errors.As(err, &denied):
		obsmetrics.ConvergenceOutcomesTotal.WithLabelValues("orchestrator_denied").Inc()
		l.logger.Info().Err(err).Str("target", target.String()).Msg("orchestrator denied convergence step, retrying next tick")
	case errors.As(err, &notYet):
		obsmetrics.ConvergenceOutcomesTotal.WithLabelValues("not_yet").Inc()
		l.logger.Info().Err(err).Str("target", target.String()).Msg("convergence not yet complete, retrying next tick")
	default:
		obsmetrics.ConvergenceOutcomesTotal.WithLabelValues("error").Inc()
		l.logger.Error().Err(err).Str("target", target.String()).Msg("convergence step failed, retrying next tick")
	}
}

// converge performs at most one gated transition toward target per call,
// matching the monotone-transitions invariant: currentState moves no more
// than one step along RESUMED <-> SUSPENDED_NODE_ADMIN <-> SUSPENDED per
// tick. Reaching a multi-step target (e.g. RESUMED -> SUSPENDED) therefore
// takes multiple ticks.
func (l *Loop) converge(ctx context.Context, target State) error {
	l.mu.Lock()
	current := l.currentState
	l.mu.Unlock()

	if current == target {
		return nil
	}

	if target == StateResumed {
		return l.stepTowardResumed(ctx)
	}
	return l.stepTowardSuspended(ctx, current, target)
}

func (l *Loop) stepTowardResumed(ctx context.Context) error {
	ok, err := l.nodeAdmin.SetFrozen(ctx, false)
	if err != nil {
		return err
	}
	if !ok {
		return &ConvergenceNotYetError{Reason: "node admin has not unfrozen yet"}
	}

	if err := l.orchestrator.Resume(ctx, l.host); err != nil {
		return err
	}

	l.setCurrentState(StateResumed)
	return nil
}

func (l *Loop) stepTowardSuspended(ctx context.Context, current, target State) error {
	if current == StateResumed {
		ok, err := l.nodeAdmin.SetFrozen(ctx, true)
		if err != nil {
			return err
		}
		if !ok {
			return &ConvergenceNotYetError{Reason: "node admin has not frozen yet"}
		}

		hostnames, err := l.activeHostnamesIncludingSelf(ctx)
		if err != nil {
			return err
		}

		if err := l.orchestrator.Suspend(ctx, l.host, hostnames); err != nil {
			return err
		}

		l.setCurrentState(StateSuspendedNodeAdmin)
		return nil
	}

	if current == StateSuspendedNodeAdmin && target == StateSuspended {
		hostnames, err := l.activeHostnamesIncludingSelf(ctx)
		if err != nil {
			return err
		}

		if err := l.nodeAdmin.StopNodeAgentServices(ctx, hostnames); err != nil {
			return err
		}

		l.setCurrentState(StateSuspended)
		return nil
	}

	// current == SUSPENDED, target == SUSPENDED_NODE_ADMIN: no row in the
	// spec covers a partial resume back up to the intermediate state. We
	// treat it symmetrically with the freeze gate: unfreezing is what lets
	// the state move up one level, without involving the orchestrator
	// (resume is only reachable via target == RESUMED).
	ok, err := l.nodeAdmin.SetFrozen(ctx, false)
	if err != nil {
		return err
	}
	if !ok {
		return &ConvergenceNotYetError{Reason: "node admin has not unfrozen yet"}
	}
	l.setCurrentState(StateSuspendedNodeAdmin)
	return nil
}

func (l *Loop) setCurrentState(s State) {
	l.mu.Lock()
	l.currentState = s
	l.mu.Unlock()
	obsmetrics.ConvergenceStateTransitionsTotal.WithLabelValues(s.String()).Inc()
	for _, st := range []State{StateResumed, StateSuspendedNodeAdmin, StateSuspended} {
		v := 0.0
		if st == s {
			v = 1.0
		}
		obsmetrics.ConvergenceCurrentState.WithLabelValues(st.String()).Set(v)
	}
}

// activeHostnamesIncludingSelf reads the node repository while frozen, which
// is permitted and required for suspend, but the result must never be
// applied to the node-admin driver while frozen.
func (l *Loop) activeHostnamesIncludingSelf(ctx context.Context) ([]string, error) {
	containers, err := l.nodeRepository.GetContainersToRun(ctx)
	if err != nil {
		return nil, err
	}

	hostnames := make([]string, 0, len(containers)+1)
	for _, c := range containers {
		if c.NodeState == domain.StateActive {
			hostnames = append(hostnames, c.Hostname)
		}
	}
	hostnames = append(hostnames, l.host)
	return hostnames, nil
}

// fetchContainersToRun polls the repository and applies the result to the
// node-admin driver. It holds the monitor for the entire repository call, so
// concurrent GetDebug calls see a consistent view at the cost of blocking
// during I/O; this mirrors the spec's accepted tradeoff for debug snapshots.
func (l *Loop) fetchContainersToRun() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentState != StateResumed {
		l.logger.Debug().Str("current", l.currentState.String()).Msg("not resumed, skipping container fetch")
		return
	}

	timer := obsmetrics.NewTimer()
	containers, err := l.nodeRepository.GetContainersToRun(context.Background())
	timer.ObserveDuration(obsmetrics.FetchContainersDuration)
	if err != nil {
		l.logger.Warn().Err(err).Msg("failed to fetch containers to run")
		return
	}
	if containers == nil {
		l.logger.Warn().Msg("node repository returned no containers to run")
		return
	}

	if err := l.nodeAdmin.RefreshContainersToRun(context.Background(), containers); err != nil {
		l.logger.Warn().Err(err).Msg("failed to refresh containers to run")
	}
}

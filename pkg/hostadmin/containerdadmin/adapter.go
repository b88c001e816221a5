// Package containerdadmin is the reference convergence.NodeAdmin: it drives
// container lifecycle on the local host through containerd. It is
// demonstration wiring for `hostctl agent serve`, not part of the tested
// convergence contract.
package containerdadmin

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/hostctl/pkg/domain"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace hostctl operates in.
	DefaultNamespace = "hostctl"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// defaultImage is used for any ContainerSpec that does not carry a
	// RuntimeVersion; the abstract §6 contract has no image field, so this
	// reference adapter takes RuntimeVersion as the image reference when it
	// is set and runs this placeholder workload otherwise.
	defaultImage = "docker.io/library/pause:3.9"
)

// Adapter is a containerd-backed convergence.NodeAdmin. SetFrozen converges
// immediately: there is no async apply queue here, only RefreshContainersToRun
// calls made synchronously by the convergence loop, so "drained in-flight
// work" is trivially true the moment frozen is set.
type Adapter struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger

	mu              sync.Mutex
	frozen          bool
	freezeStartedAt time.Time
	running         map[string]domain.ContainerSpec
}

// New dials containerd at socketPath (DefaultSocketPath if empty).
func New(socketPath string, logger zerolog.Logger) (*Adapter, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("containerdadmin: connect to containerd: %w", err)
	}

	return &Adapter{
		client:    client,
		namespace: DefaultNamespace,
		logger:    logger,
		running:   make(map[string]domain.ContainerSpec),
	}, nil
}

// SetFrozen requests container mutation to stop or resume. It always
// converges on this call, per the struct comment.
func (a *Adapter) SetFrozen(_ context.Context, frozen bool) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.frozen == frozen {
		return true, nil
	}
	a.frozen = frozen
	if frozen {
		a.freezeStartedAt = time.Now()
	} else {
		a.freezeStartedAt = time.Time{}
	}
	return true, nil
}

// SubsystemFreezeDuration reports how long the adapter has been frozen.
func (a *Adapter) SubsystemFreezeDuration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.frozen {
		return 0
	}
	return time.Since(a.freezeStartedAt)
}

// RefreshContainersToRun diffs the desired hostname set against the
// containers this adapter last started, starting newly desired ones and
// stopping+deleting ones no longer wanted. It is a no-op while frozen.
func (a *Adapter) RefreshContainersToRun(ctx context.Context, containers []domain.ContainerSpec) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.frozen {
		a.logger.Debug().Msg("containerdadmin: frozen, skipping refresh")
		return nil
	}

	desired := make(map[string]domain.ContainerSpec, len(containers))
	for _, c := range containers {
		if c.NodeState == domain.StateActive {
			desired[c.Hostname] = c
		}
	}

	ctx = namespaces.WithNamespace(ctx, a.namespace)

	for hostname, spec := range desired {
		if _, ok := a.running[hostname]; ok {
			continue
		}
		if err := a.startContainer(ctx, spec); err != nil {
			a.logger.Warn().Err(err).Str("hostname", hostname).Msg("containerdadmin: failed to start container")
			continue
		}
		a.running[hostname] = spec
	}

	for hostname := range a.running {
		if _, ok := desired[hostname]; ok {
			continue
		}
		if err := a.stopAndDelete(ctx, hostname, 10*time.Second); err != nil {
			a.logger.Warn().Err(err).Str("hostname", hostname).Msg("containerdadmin: failed to stop container")
			continue
		}
		delete(a.running, hostname)
	}

	return nil
}

// StopNodeAgentServices stops (without deleting) the containers for the
// given hostnames.
func (a *Adapter) StopNodeAgentServices(ctx context.Context, hostnames []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx = namespaces.WithNamespace(ctx, a.namespace)
	for _, hostname := range hostnames {
		if _, ok := a.running[hostname]; !ok {
			continue
		}
		if err := a.stopOnly(ctx, hostname, 10*time.Second); err != nil {
			a.logger.Warn().Err(err).Str("hostname", hostname).Msg("containerdadmin: failed to stop node agent service")
		}
	}
	return nil
}

// DebugInfo returns the freeze flag, the number of containers this adapter
// has started, and the current freeze duration.
func (a *Adapter) DebugInfo() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	var freezeDuration time.Duration
	if a.frozen {
		freezeDuration = time.Since(a.freezeStartedAt)
	}

	return map[string]any{
		"frozen":         a.frozen,
		"running_count":  len(a.running),
		"freeze_seconds": freezeDuration.Seconds(),
	}
}

// Shutdown closes the containerd client.
func (a *Adapter) Shutdown() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) startContainer(ctx context.Context, spec domain.ContainerSpec) error {
	imageRef := spec.RuntimeVersion
	if imageRef == "" {
		imageRef = defaultImage
	}

	image, err := a.client.GetImage(ctx, imageRef)
	if err != nil {
		image, err = a.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
		if err != nil {
			return fmt.Errorf("pull image %s: %w", imageRef, err)
		}
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithMounts([]specs.Mount{
			{
				Source:      "/etc/resolv.conf",
				Destination: "/etc/resolv.conf",
				Type:        "bind",
				Options:     []string{"ro", "bind"},
			},
		}),
	}

	container, err := a.client.NewContainer(
		ctx,
		spec.Hostname,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Hostname+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	return task.Start(ctx)
}

func (a *Adapter) stopOnly(ctx context.Context, hostname string, timeout time.Duration) error {
	container, err := a.client.LoadContainer(ctx, hostname)
	if err != nil {
		return nil
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return task.Kill(stopCtx, syscall.SIGTERM)
}

func (a *Adapter) stopAndDelete(ctx context.Context, hostname string, timeout time.Duration) error {
	if err := a.stopOnly(ctx, hostname, timeout); err != nil {
		return err
	}

	container, err := a.client.LoadContainer(ctx, hostname)
	if err != nil {
		return nil
	}

	if task, err := container.Task(ctx, nil); err == nil {
		if _, err := task.Delete(ctx); err != nil {
			a.logger.Warn().Err(err).Str("hostname", hostname).Msg("containerdadmin: failed to delete task")
		}
	}

	return container.Delete(ctx, containerd.WithSnapshotCleanup)
}

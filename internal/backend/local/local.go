// Package local runs the tracker and its nodes as child processes of the
// launcher on this machine.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/backend"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/config"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/orchestrator"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/registry"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/supervisor"
)

// Name is the registry name of this backend.
const Name = config.BackendLocal

// Messages shown for operations this backend cannot perform. Once the
// launcher exits nothing remembers which processes it started.
const (
	noticeShutdown       = "Nodes cannot be shutdown in local."
	noticeDownloadReport = "Cannot download report in local."
	noticeWatchLogs      = "Cannot watch tracker logs in local."
)

// Spawner starts processes and can wait for all of them.
type Spawner interface {
	orchestrator.Spawner
	Wait(ctx context.Context) error
}

// Backend is the local execution target.
type Backend struct {
	deps    backend.Deps
	logger  *slog.Logger
	spawner Spawner

	mu        sync.Mutex
	observers []orchestrator.Observer
	result    *orchestrator.Result
	runID     string
}

// Factory registers this backend with a backend.Registry.
func Factory(deps backend.Deps) (backend.Backend, error) {
	return New(deps), nil
}

// New creates a Backend whose processes are spawned by a supervisor.
func New(deps backend.Deps) *Backend {
	b := newBackend(deps)
	b.spawner = supervisor.New(supervisor.Config{
		Logger:  b.logger,
		Capture: deps.Capture,
		Callbacks: supervisor.Callbacks{
			OnExit: b.processExited,
		},
	})
	return b
}

// NewWithSpawner creates a Backend using sp instead of a supervisor. The
// caller reports exits itself.
func NewWithSpawner(deps backend.Deps, sp Spawner) *Backend {
	b := newBackend(deps)
	b.spawner = sp
	return b
}

func newBackend(deps backend.Deps) *Backend {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Backend{
		deps:      deps,
		logger:    logger.With("backend", Name),
		observers: append([]orchestrator.Observer(nil), deps.Observers...),
	}
}

// Name implements backend.Backend.
func (b *Backend) Name() string {
	return Name
}

// Start resolves the artifact, then launches the tracker and every node.
func (b *Backend) Start(ctx context.Context) error {
	cfg := b.deps.Config

	dir, err := b.deps.Locator.Locate(ctx)
	if err != nil {
		return &backend.ArtifactResolutionError{Err: err}
	}
	b.logger.Info("artifact_resolved", "dir", dir, "jar", cfg.JarPath(dir))

	observers := b.beginRun(ctx)

	launcher := orchestrator.New(orchestrator.Config{
		Config:    cfg,
		Spawner:   b.spawner,
		Clock:     b.deps.Clock,
		Logger:    b.logger,
		Observers: observers,
	})

	res, err := launcher.Launch(ctx, process.TargetFor(cfg, dir))

	b.mu.Lock()
	b.result = res
	b.mu.Unlock()

	return err
}

// beginRun records the run when a registry is configured and returns the
// observer list for this launch. Registry failures never stop a launch.
func (b *Backend) beginRun(ctx context.Context) []orchestrator.Observer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deps.Store == nil {
		return b.observers
	}

	cfg := b.deps.Config
	rec, err := registry.BeginRun(ctx, b.deps.Store, registry.Run{
		Backend:    Name,
		Deployment: cfg.Deployment,
		Nodes:      cfg.Nodes,
	}, b.logger)
	if err != nil {
		b.logger.Warn("registry_begin_failed", "error", err)
		return b.observers
	}

	b.runID = rec.RunID()
	b.logger.Info("run_recorded", "run_id", b.runID)
	b.observers = append(b.observers, rec)
	return b.observers
}

func (b *Backend) processExited(h *process.Handle, exitCode int, uptime time.Duration) {
	// A child can exit before the launcher has reported its spawn.
	<-h.Announced()
	b.mu.Lock()
	observers := b.observers
	b.mu.Unlock()
	orchestrator.NotifyExited(observers, h, exitCode, uptime)
}

// Wait blocks until every spawned process has exited.
func (b *Backend) Wait(ctx context.Context) error {
	if err := b.spawner.Wait(ctx); err != nil {
		return fmt.Errorf("wait for local processes: %w", err)
	}
	return nil
}

// Result returns the outcome of the last Start, or nil.
func (b *Backend) Result() *orchestrator.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// RunID returns the registry run ID of the last Start, or "".
func (b *Backend) RunID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runID
}

// Shutdown is not supported.
func (b *Backend) Shutdown(context.Context) error {
	return backend.Unsupported(Name, backend.OpShutdown, noticeShutdown)
}

// DownloadReport is not supported.
func (b *Backend) DownloadReport(context.Context) error {
	return backend.Unsupported(Name, backend.OpDownloadReport, noticeDownloadReport)
}

// WatchTrackerLogs is not supported.
func (b *Backend) WatchTrackerLogs(context.Context) error {
	return backend.Unsupported(Name, backend.OpWatchTrackerLogs, noticeWatchLogs)
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Waiter  = (*Backend)(nil)
)

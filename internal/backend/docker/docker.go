// Package docker runs the tracker and its nodes as containers on a Docker
// engine. Containers use the host network so nodes reach the tracker at the
// same address as locally. Container labels are the deployment inventory,
// which lets every lifecycle operation work from a fresh invocation.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/backend"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/config"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/orchestrator"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/registry"
)

// Name is the registry name of this backend.
const Name = config.BackendDocker

// ErrNoTracker is returned when the deployment has no tracker container.
var ErrNoTracker = errors.New("no tracker container found")

// ErrDeploymentExists is returned by Start when containers of the
// deployment are still present.
var ErrDeploymentExists = errors.New("deployment already has containers")

// Backend is the Docker execution target.
type Backend struct {
	deps   backend.Deps
	engine engine
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	mu     sync.Mutex
	result *orchestrator.Result
	runID  string
}

// Factory registers this backend with a backend.Registry.
func Factory(deps backend.Deps) (backend.Backend, error) {
	eng, err := newClientEngine()
	if err != nil {
		return nil, err
	}
	return newBackend(deps, eng), nil
}

func newBackend(deps backend.Deps, eng engine) *Backend {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	stdout, stderr := deps.Stdout, deps.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Backend{
		deps:   deps,
		engine: eng,
		logger: logger.With("backend", Name),
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

// Name implements backend.Backend.
func (b *Backend) Name() string {
	return Name
}

// Close releases the engine connection.
func (b *Backend) Close() error {
	return b.engine.Close()
}

func (b *Backend) deploymentLabels() map[string]string {
	return map[string]string{LabelDeployment: b.deps.Config.Deployment}
}

// Start launches the tracker container, then one container per node on the
// usual stagger. It returns once every node has been handed out.
func (b *Backend) Start(ctx context.Context) error {
	cfg := b.deps.Config

	dir, err := b.deps.Locator.Locate(ctx)
	if err != nil {
		return &backend.ArtifactResolutionError{Err: err}
	}

	existing, err := b.engine.List(ctx, b.deploymentLabels())
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: %q has %d (run shutdown first)", ErrDeploymentExists, cfg.Deployment, len(existing))
	}

	if err := b.engine.EnsureImage(ctx, cfg.DockerImage); err != nil {
		return err
	}

	observers := append([]orchestrator.Observer(nil), b.deps.Observers...)
	runID := registry.NewRunID()
	if b.deps.Store != nil {
		rec, err := registry.BeginRun(ctx, b.deps.Store, registry.Run{
			ID:         runID,
			Backend:    Name,
			Deployment: cfg.Deployment,
			Nodes:      cfg.Nodes,
		}, b.logger)
		if err != nil {
			b.logger.Warn("registry_begin_failed", "error", err)
		} else {
			observers = append(observers, rec)
		}
	}

	b.mu.Lock()
	b.runID = runID
	b.mu.Unlock()

	b.logger.Info("deployment_starting",
		"deployment", cfg.Deployment,
		"run_id", runID,
		"image", cfg.DockerImage,
		"artifact_dir", dir,
	)

	spawner := &containerSpawner{
		engine:      b.engine,
		image:       cfg.DockerImage,
		deployment:  cfg.Deployment,
		runID:       runID,
		artifactDir: dir,
		now:         b.now,
	}
	launcher := orchestrator.New(orchestrator.Config{
		Config:    cfg,
		Spawner:   spawner,
		Clock:     b.deps.Clock,
		Logger:    b.logger,
		Observers: observers,
	})

	target := process.Target{
		Binary: "java",
		Jar:    path.Join(artifactMount, cfg.JarName),
		Dir:    containerWorkDir,
	}
	res, err := launcher.Launch(ctx, target)

	b.mu.Lock()
	b.result = res
	b.mu.Unlock()
	return err
}

// Shutdown force-removes every container of the deployment.
func (b *Backend) Shutdown(ctx context.Context) error {
	list, err := b.engine.List(ctx, b.deploymentLabels())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		b.logger.Info("deployment_not_found", "deployment", b.deps.Config.Deployment)
		return nil
	}

	var errs []error
	removed := 0
	for _, c := range list {
		if err := b.engine.Remove(ctx, c.ID); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", c.Name, err))
			continue
		}
		removed++
		b.logger.Debug("container_removed", "id", shortID(c.ID), "name", c.Name)
	}

	b.logger.Info("deployment_shutdown",
		"deployment", b.deps.Config.Deployment,
		"removed", removed,
		"failed", len(errs),
	)
	return errors.Join(errs...)
}

// tracker finds the tracker container of the deployment.
func (b *Backend) tracker(ctx context.Context) (containerInfo, error) {
	labels := b.deploymentLabels()
	labels[LabelRole] = string(process.RoleTracker)

	list, err := b.engine.List(ctx, labels)
	if err != nil {
		return containerInfo{}, err
	}
	if len(list) == 0 {
		return containerInfo{}, fmt.Errorf("%w for deployment %q", ErrNoTracker, b.deps.Config.Deployment)
	}
	return list[0], nil
}

// DownloadReport copies the tracker's report into the configured destination.
func (b *Backend) DownloadReport(ctx context.Context) error {
	cfg := b.deps.Config

	tr, err := b.tracker(ctx)
	if err != nil {
		return err
	}

	rc, err := b.engine.CopyFrom(ctx, tr.ID, reportPathInContainer(cfg.ReportPath))
	if err != nil {
		return err
	}
	defer rc.Close()

	files, err := extractTar(rc, cfg.ReportDest)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("report %s in tracker container is empty", cfg.ReportPath)
	}

	for _, f := range files {
		b.logger.Info("report_downloaded", "path", f)
		fmt.Fprintln(b.stdout, f)
	}
	return nil
}

// reportPathInContainer resolves a relative report path against the
// tracker's working directory.
func reportPathInContainer(p string) string {
	if path.IsAbs(p) {
		return p
	}
	return path.Join(containerWorkDir, p)
}

// WatchTrackerLogs follows the tracker's output until ctx is cancelled or
// the container stops.
func (b *Backend) WatchTrackerLogs(ctx context.Context) error {
	tr, err := b.tracker(ctx)
	if err != nil {
		return err
	}

	rc, err := b.engine.Logs(ctx, tr.ID, true)
	if err != nil {
		return fmt.Errorf("tracker logs: %w", err)
	}
	defer rc.Close()

	if _, err := stdcopy.StdCopy(b.stdout, b.stderr, rc); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("tracker logs: %w", err)
	}
	return nil
}

// Result returns the outcome of the last Start, or nil.
func (b *Backend) Result() *orchestrator.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// RunID returns the run label of the last Start, or "".
func (b *Backend) RunID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runID
}

var _ backend.Backend = (*Backend)(nil)

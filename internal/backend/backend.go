// Package backend defines the lifecycle contract every execution target
// implements, and the registry the launcher picks one from at startup.
package backend

import (
	"context"
	"io"
	"log/slog"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/artifact"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/config"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/orchestrator"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/registry"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/scheduler"
)

// Operation names, as used on the command line and in errors.
const (
	OpStart            = "start"
	OpShutdown         = "shutdown"
	OpDownloadReport   = "download-report"
	OpWatchTrackerLogs = "watch-tracker-logs"
)

// Backend is a deployment target for one tracker and its nodes.
type Backend interface {
	Name() string

	// Start resolves the artifact, launches the tracker, then the nodes on a
	// stagger. It returns once every node has been handed out.
	Start(ctx context.Context) error

	// Shutdown terminates every process of the current deployment.
	Shutdown(ctx context.Context) error

	// DownloadReport copies the tracker's report to a local path.
	DownloadReport(ctx context.Context) error

	// WatchTrackerLogs streams the tracker's output until ctx is done or the
	// tracker stops.
	WatchTrackerLogs(ctx context.Context) error
}

// Waiter is implemented by backends whose processes are children of the
// launcher. Wait blocks until they have all exited.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Reporter is implemented by backends that keep the outcome of their last
// launch. Result is nil until Start has run.
type Reporter interface {
	Result() *orchestrator.Result
}

// Deps carries everything a Factory may need.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Locator   artifact.Locator
	Clock     scheduler.Clock
	Observers []orchestrator.Observer
	Store     registry.Store // nil = no run registry
	Stdout    io.Writer
	Stderr    io.Writer

	// Capture, when set, receives the output of locally spawned processes
	// instead of the launcher's stdio.
	Capture func(spec process.Spec) *logging.OutputHandler
}

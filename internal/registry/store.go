// Package registry persists what each start invocation launched, so later
// invocations (and the runs command) can see past deployments.
package registry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one start invocation.
type Run struct {
	ID         string
	Backend    string
	Deployment string
	Nodes      int
	StartedAt  time.Time
}

// Process is one spawn attempt within a run. HandleID is empty when the
// spawn failed, in which case Error is set.
type Process struct {
	RunID     string
	Role      string
	Identity  int
	Port      int
	HandleID  string
	StartedAt time.Time
	Exited    bool
	ExitCode  int
	ExitedAt  time.Time
	Error     string
}

// Store is the persistence interface for runs and their processes.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordRun(ctx context.Context, run Run) error
	RecordProcess(ctx context.Context, p Process) error
	MarkExited(ctx context.Context, runID, handleID string, code int, at time.Time) error
	GetRun(ctx context.Context, id string) (Run, error)
	Runs(ctx context.Context, limit int) ([]Run, error)
	Processes(ctx context.Context, runID string) ([]Process, error)
	Close() error
}

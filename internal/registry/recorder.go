package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
)

// Recorder writes the events of one run into a Store. Write errors are
// logged and never interrupt a launch.
type Recorder struct {
	store  Store
	runID  string
	logger *slog.Logger
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// BeginRun records run (assigning an ID if empty) and returns a Recorder for it.
func BeginRun(ctx context.Context, store Store, run Run, logger *slog.Logger) (*Recorder, error) {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if err := store.RecordRun(ctx, run); err != nil {
		return nil, err
	}
	return &Recorder{store: store, runID: run.ID, logger: logger}, nil
}

// RunID returns the ID of the run being recorded.
func (r *Recorder) RunID() string {
	return r.runID
}

// ProcessSpawned records a successful spawn.
func (r *Recorder) ProcessSpawned(h *process.Handle) {
	err := r.store.RecordProcess(context.Background(), Process{
		RunID:     r.runID,
		Role:      string(h.Role),
		Identity:  h.Identity,
		Port:      h.Port,
		HandleID:  h.ID,
		StartedAt: h.StartedAt,
	})
	if err != nil {
		r.logger.Warn("registry_write_failed", "run_id", r.runID, "error", err)
	}
}

// SpawnFailed records a spawn attempt that never produced a process.
func (r *Recorder) SpawnFailed(spec process.Spec, spawnErr error) {
	err := r.store.RecordProcess(context.Background(), Process{
		RunID:     r.runID,
		Role:      string(spec.Role),
		Identity:  spec.Identity,
		Port:      spec.Port,
		StartedAt: time.Now(),
		Error:     spawnErr.Error(),
	})
	if err != nil {
		r.logger.Warn("registry_write_failed", "run_id", r.runID, "error", err)
	}
}

// ProcessExited records an exit observed by the supervisor.
func (r *Recorder) ProcessExited(h *process.Handle, code int, uptime time.Duration) {
	at := h.StartedAt.Add(uptime)
	if err := r.store.MarkExited(context.Background(), r.runID, h.ID, code, at); err != nil {
		r.logger.Warn("registry_write_failed", "run_id", r.runID, "error", err)
	}
}

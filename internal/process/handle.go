package process

import (
	"context"
	"sync"
	"time"
)

// Status is the observed state of a spawned process.
type Status int

const (
	StatusRunning Status = iota
	StatusExited
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Handle tracks one spawned process. Dropping a Handle does not affect the
// process it refers to.
type Handle struct {
	ID        string // "pid-1234" or a container id
	Role      Role
	Identity  int
	Port      int
	StartedAt time.Time

	env map[string]string

	mu       sync.Mutex
	status   Status
	exitCode int
	exitedAt time.Time
	done     chan struct{}

	announceOnce sync.Once
	announced    chan struct{}
}

// NewHandle creates a running handle for spec. The environment is copied so
// later changes to spec.Env are not visible through the handle.
func NewHandle(id string, spec Spec, startedAt time.Time) *Handle {
	env := make(map[string]string, len(spec.Env))
	for k, v := range spec.Env {
		env[k] = v
	}
	return &Handle{
		ID:        id,
		Role:      spec.Role,
		Identity:  spec.Identity,
		Port:      spec.Port,
		StartedAt: startedAt,
		env:       env,
		status:    StatusRunning,
		done:      make(chan struct{}),
		announced: make(chan struct{}),
	}
}

// Env returns a copy of the environment the process was started with.
func (h *Handle) Env() map[string]string {
	out := make(map[string]string, len(h.env))
	for k, v := range h.env {
		out[k] = v
	}
	return out
}

// MarkExited records the exit code. Only the first call has an effect.
func (h *Handle) MarkExited(code int, at time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusExited {
		return false
	}
	h.status = StatusExited
	h.exitCode = code
	h.exitedAt = at
	close(h.done)
	return true
}

// Status returns the current status and, once exited, the exit code.
func (h *Handle) Status() (Status, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.exitCode
}

// Running reports whether the process has not been observed to exit.
func (h *Handle) Running() bool {
	st, _ := h.Status()
	return st == StatusRunning
}

// Uptime returns how long the process ran, or has been running so far.
func (h *Handle) Uptime(now time.Time) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusExited {
		return h.exitedAt.Sub(h.StartedAt)
	}
	return now.Sub(h.StartedAt)
}

// Announce marks the handle as reported to every spawn observer. Exit
// reporting waits on Announced so observers never see an exit first.
func (h *Handle) Announce() {
	h.announceOnce.Do(func() { close(h.announced) })
}

// Announced is closed once Announce has been called.
func (h *Handle) Announced() <-chan struct{} {
	return h.announced
}

// Done is closed when the process exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		_, code := h.Status()
		return code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

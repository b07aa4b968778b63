// Package supervisor spawns tracker and node processes on the local machine
// and observes their exits. It never restarts or kills anything: spawned
// processes outlive the launcher and its context.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
)

// DefaultForwardEnv lists the launcher variables passed through to children
// so the JVM can be found. Everything else comes from the Spec.
var DefaultForwardEnv = []string{"PATH", "JAVA_HOME"}

// Callbacks contains optional callback functions for process events.
type Callbacks struct {
	// OnStart is called after a process has been started.
	OnStart func(h *process.Handle, pid int)

	// OnExit is called once the process has been reaped.
	OnExit func(h *process.Handle, exitCode int, uptime time.Duration)
}

// Config holds configuration for creating a Supervisor.
type Config struct {
	Logger     *slog.Logger
	Callbacks  Callbacks
	ForwardEnv []string // nil = DefaultForwardEnv

	// Capture, when set, returns the handler that receives a process's
	// stdout and stderr. When nil, children inherit the launcher's stdio.
	Capture func(spec process.Spec) *logging.OutputHandler

	// Now is the clock used for start/exit timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Supervisor owns the handles of every process it spawned.
type Supervisor struct {
	logger     *slog.Logger
	callbacks  Callbacks
	forwardEnv []string
	capture    func(spec process.Spec) *logging.OutputHandler
	now        func() time.Time

	mu      sync.Mutex
	handles []*process.Handle
	wg      sync.WaitGroup
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	forward := cfg.ForwardEnv
	if forward == nil {
		forward = DefaultForwardEnv
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Supervisor{
		logger:     logger,
		callbacks:  cfg.Callbacks,
		forwardEnv: forward,
		capture:    cfg.Capture,
		now:        now,
	}
}

// Spawn starts spec and returns immediately. The process is not bound to ctx;
// ctx only aborts a spawn that has not happened yet.
func (s *Supervisor) Spawn(ctx context.Context, spec process.Spec) (*process.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = s.buildEnv(spec)

	var readers []io.Reader
	var handler *logging.OutputHandler
	if s.capture != nil {
		handler = s.capture(spec)
	}
	if handler != nil {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
		readers = append(readers, stdout, stderr)
	} else {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	startedAt := s.now()
	if err := cmd.Start(); err != nil {
		s.logger.Error("process_start_failed",
			"role", spec.Role,
			"identity", spec.Identity,
			"binary", spec.Binary,
			"error", err,
		)
		return nil, fmt.Errorf("start %s: %w", spec.Name(), err)
	}

	pid := cmd.Process.Pid
	h := process.NewHandle("pid-"+strconv.Itoa(pid), spec, startedAt)

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()

	s.logger.Info("process_started",
		"role", spec.Role,
		"identity", spec.Identity,
		"port", spec.Port,
		"pid", pid,
	)
	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(h, pid)
	}

	s.wg.Add(1)
	go s.reap(cmd, h, handler, readers)

	return h, nil
}

// reap drains captured output, waits for the process and records its exit.
func (s *Supervisor) reap(cmd *exec.Cmd, h *process.Handle, handler *logging.OutputHandler, readers []io.Reader) {
	defer s.wg.Done()

	// All reads must finish before Wait closes the pipes.
	var readWg sync.WaitGroup
	for _, r := range readers {
		readWg.Add(1)
		go func(r io.Reader) {
			defer readWg.Done()
			handler.HandleReader(r)
		}(r)
	}
	readWg.Wait()

	waitErr := cmd.Wait()
	exitedAt := s.now()
	exitCode := extractExitCode(waitErr)
	h.MarkExited(exitCode, exitedAt)
	uptime := h.Uptime(exitedAt)

	s.logger.Info("process_exited",
		"role", h.Role,
		"identity", h.Identity,
		"id", h.ID,
		"exit_code", exitCode,
		"uptime", uptime.String(),
	)
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(h, exitCode, uptime)
	}
}

// buildEnv replaces the inherited environment with Spec.Env plus
// the forwarded launcher variables Spec.Env does not set.
func (s *Supervisor) buildEnv(spec process.Spec) []string {
	env := spec.EnvList()
	for _, key := range s.forwardEnv {
		if _, set := spec.Env[key]; set {
			continue
		}
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// Handles returns a snapshot of every handle in spawn order.
func (s *Supervisor) Handles() []*process.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*process.Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// ActiveCount returns the number of processes not yet observed to exit.
func (s *Supervisor) ActiveCount() int {
	n := 0
	for _, h := range s.Handles() {
		if h.Running() {
			n++
		}
	}
	return n
}

// Wait blocks until every process spawned so far has exited, or ctx is done.
// Returning early leaves the processes running.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}

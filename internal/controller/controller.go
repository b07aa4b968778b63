// Package controller runs exactly one lifecycle operation against the
// selected backend and maps its outcome to a process exit status.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/backend"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/tui"
)

// Operation is one of the four lifecycle operations.
type Operation string

const (
	OpStart            Operation = backend.OpStart
	OpShutdown         Operation = backend.OpShutdown
	OpDownloadReport   Operation = backend.OpDownloadReport
	OpWatchTrackerLogs Operation = backend.OpWatchTrackerLogs
)

// Exit statuses.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUnsupported = 2
)

// Config holds configuration for a Controller.
type Config struct {
	Backend     backend.Backend
	Logger      *slog.Logger
	Stderr      io.Writer // nil = os.Stderr
	WaitForExit bool

	// OnStarted, when set, is called with the result of Start before any
	// wait for child processes begins.
	OnStarted func(err error)
}

// Controller dispatches operations. It keeps no state between calls.
type Controller struct {
	backend     backend.Backend
	logger      *slog.Logger
	stderr      io.Writer
	waitForExit bool
	onStarted   func(err error)
}

// New creates a Controller.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Controller{
		backend:     cfg.Backend,
		logger:      logger,
		stderr:      stderr,
		waitForExit: cfg.WaitForExit,
		onStarted:   cfg.OnStarted,
	}
}

// Run performs op. An unsupported operation prints the backend's notice.
func (c *Controller) Run(ctx context.Context, op Operation) error {
	c.logger.Info("operation_starting", "operation", string(op), "backend", c.backend.Name())

	var err error
	switch op {
	case OpStart:
		err = c.start(ctx)
	case OpShutdown:
		err = c.backend.Shutdown(ctx)
	case OpDownloadReport:
		err = c.backend.DownloadReport(ctx)
	case OpWatchTrackerLogs:
		err = c.backend.WatchTrackerLogs(ctx)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}

	var uoe *backend.UnsupportedOperationError
	switch {
	case err == nil:
		c.logger.Info("operation_complete", "operation", string(op))
	case errors.As(err, &uoe):
		tui.PrintNotice(c.stderr, uoe.Notice())
		c.logger.Warn("operation_unsupported", "operation", string(op), "backend", uoe.Backend)
	default:
		c.logger.Error("operation_failed", "operation", string(op), "error", err)
	}
	return err
}

// start launches the deployment and, for backends that own their
// processes, optionally stays until they exit. Cancelling ctx during that
// wait detaches: the processes keep running.
func (c *Controller) start(ctx context.Context) error {
	err := c.backend.Start(ctx)
	if c.onStarted != nil {
		c.onStarted(err)
	}
	if err != nil || !c.waitForExit {
		return err
	}

	w, ok := c.backend.(backend.Waiter)
	if !ok {
		return nil
	}

	c.logger.Info("waiting_for_processes")
	if err := w.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			c.logger.Info("wait_detached", "reason", ctx.Err())
			return nil
		}
		return err
	}
	return nil
}

// ExitCode maps an operation error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, backend.ErrUnsupported):
		return ExitUnsupported
	default:
		return ExitFailure
	}
}

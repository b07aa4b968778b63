package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/artifact"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/backend"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/config"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/registry"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/scheduler"
)

// session is the per-invocation state a command builds its backend from.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *registry.SQLiteStore // nil = registry disabled
	quiet  bool
}

// openSession loads the configuration, sets up logging and opens the run
// registry. A quiet session logs nowhere, for when the dashboard owns the
// terminal.
func (a *App) openSession(ctx context.Context, quiet bool) (*session, error) {
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return nil, err
	}

	var logger *slog.Logger
	if quiet {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		level := cfg.LogLevel
		if cfg.Verbose {
			level = "debug"
		}
		logger = logging.NewLoggerWithWriter(a.stderr, cfg.LogFormat, level)
	}
	logging.SetDefault(logger)

	s := &session{cfg: cfg, logger: logger, quiet: quiet}
	if cfg.StateDB != "" {
		store, err := registry.Open(ctx, cfg.StateDB)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	return s, nil
}

func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("registry_close_failed", "error", err)
		}
	}
}

// deps assembles backend dependencies for this session.
func (s *session) deps(a *App) backend.Deps {
	d := backend.Deps{
		Config:  s.cfg,
		Logger:  s.logger,
		Locator: s.locator(),
		Clock:   scheduler.RealClock(),
		Stdout:  a.stdout,
		Stderr:  a.stderr,
	}
	if s.store != nil {
		d.Store = s.store
	}
	return d
}

func (s *session) locator() artifact.Locator {
	loc := artifact.NewLocator(s.cfg, s.logger)
	if b, ok := loc.(artifact.Builder); ok && s.quiet {
		b.Stdout = io.Discard
		b.Stderr = io.Discard
		return b
	}
	return loc
}

// closeBackend releases backends holding a connection.
func closeBackend(b backend.Backend, logger *slog.Logger) {
	if c, ok := b.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("backend_close_failed", "error", err)
		}
	}
}

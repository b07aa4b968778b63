package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/backend"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/controller"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/metrics"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/preflight"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/scheduler"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/tui"
)

const metricsShutdownTimeout = 5 * time.Second

func (a *App) startCommand() *cobra.Command {
	return &cobra.Command{
		Use:   string(controller.OpStart),
		Short: "Launch the tracker, then the nodes one per interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStart(cmd.Context())
		},
	}
}

func (a *App) runStart(ctx context.Context) error {
	s, err := a.openSession(ctx, a.v.GetBool("tui"))
	if err != nil {
		return err
	}
	defer s.Close()
	cfg := s.cfg

	if !cfg.SkipPreflight {
		result := preflight.RunAll(cfg)
		if len(result.Checks) > 0 {
			preflight.PrintResults(a.stderr, result)
		}
		if !result.Passed {
			return errors.New("preflight checks failed (use --skip-preflight to override)")
		}
	}

	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:     a.version,
		Backend:     cfg.Backend,
		Deployment:  cfg.Deployment,
		TargetNodes: cfg.Nodes,
	}, prometheus.NewRegistry())

	var srv *metrics.Server
	if cfg.MetricsAddr != "" {
		srv = metrics.NewServer(cfg.MetricsAddr, collector.Gatherer(), s.logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}()
	}

	deps := s.deps(a)
	deps.Observers = append(deps.Observers, collector)

	var board *tui.Board
	if cfg.TUIEnabled {
		board = tui.NewBoard(cfg.Nodes)
		deps.Observers = append(deps.Observers, board)
		deps.Capture = func(spec process.Spec) *logging.OutputHandler {
			h := logging.NewOutputHandler(string(spec.Role), spec.Identity, s.logger, cfg.Verbose)
			if spec.Role == process.RoleTracker {
				board.SetTrackerOutput(h)
			}
			return h
		}
	}

	b, err := a.backends.New(cfg.Backend, deps)
	if err != nil {
		return err
	}
	defer closeBackend(b, s.logger)

	s.logger.Info("starting",
		"version", a.version,
		"backend", cfg.Backend,
		"deployment", cfg.Deployment,
		"nodes", cfg.Nodes,
		"start_interval", cfg.StartInterval,
		"estimated_launch", scheduler.EstimatedDuration(cfg.Nodes, cfg.StartInterval),
	)

	if cfg.TUIEnabled {
		err = a.startWithDashboard(ctx, s, b, board, srv)
	} else {
		err = controller.New(controller.Config{
			Backend:     b,
			Logger:      s.logger,
			Stderr:      a.stderr,
			WaitForExit: cfg.WaitForExit,
		}).Run(ctx, controller.OpStart)
	}

	a.finishStart(s, b, collector, srv)
	return err
}

// startWithDashboard runs the start operation behind the live dashboard.
// Quitting the dashboard cancels the operation: an unfinished schedule stops
// and a wait for children detaches.
func (a *App) startWithDashboard(ctx context.Context, s *session, b backend.Backend, board *tui.Board, srv *metrics.Server) error {
	cfg := s.cfg
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsAddr := ""
	if srv != nil {
		metricsAddr = srv.Addr()
	}
	model := tui.New(tui.Config{
		TargetNodes:   cfg.Nodes,
		Deployment:    cfg.Deployment,
		Backend:       cfg.Backend,
		MetricsAddr:   metricsAddr,
		StartInterval: cfg.StartInterval,
		Source:        board,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())

	ctrl := controller.New(controller.Config{
		Backend:     b,
		Logger:      s.logger,
		Stderr:      a.stderr,
		WaitForExit: cfg.WaitForExit,
		OnStarted: func(err error) {
			board.LaunchFinished(err)
			tui.SendLaunchDone(p, err)
		},
	})

	errCh := make(chan error, 1)
	go func() {
		err := ctrl.Run(ctx, controller.OpStart)
		// Without a wait the dashboard stays up until the user quits.
		if err != nil || cfg.WaitForExit {
			tui.SendQuit(p)
		}
		errCh <- err
	}()

	if _, err := p.Run(); err != nil {
		s.logger.Error("dashboard_failed", "error", err)
	}
	cancel()
	return <-errCh
}

// finishStart prints the exit summary when the launcher stayed with its
// children, and writes the metrics snapshot if one was requested.
func (a *App) finishStart(s *session, b backend.Backend, collector *metrics.Collector, srv *metrics.Server) {
	cfg := s.cfg

	if r, ok := b.(backend.Reporter); ok {
		if res := r.Result(); res != nil {
			s.logger.Info("launch_result",
				"nodes", len(res.Nodes),
				"failures", res.Failures,
				"elapsed", res.Elapsed.String(),
			)
		}
	}

	if _, ok := b.(backend.Waiter); ok && cfg.WaitForExit {
		addr := ""
		if srv != nil {
			addr = srv.Addr()
		}
		metrics.PrintSummary(a.stdout, collector.GenerateSummary(), addr)
	}

	if cfg.MetricsDump != "" {
		if err := metrics.WriteSnapshotFile(cfg.MetricsDump, collector.Gatherer()); err != nil {
			s.logger.Warn("metrics_dump_failed", "path", cfg.MetricsDump, "error", err)
		} else {
			s.logger.Info("metrics_dumped", "path", cfg.MetricsDump)
		}
	}
}

// Package orchestrator implements the staggered startup protocol: launch the
// tracker, then hand the nodes to the startup scheduler. Backends supply the
// Spawner that turns a process.Spec into a running process.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/config"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/scheduler"
)

// Spawner starts one process and returns without waiting for it.
type Spawner interface {
	Spawn(ctx context.Context, spec process.Spec) (*process.Handle, error)
}

// Observer is notified of launch events. Metrics, the run registry and the
// dashboard all implement it.
type Observer interface {
	ProcessSpawned(h *process.Handle)
	SpawnFailed(spec process.Spec, err error)
}

// ExitObserver is implemented by observers that also want exits. Only
// spawners that reap their children report them.
type ExitObserver interface {
	ProcessExited(h *process.Handle, exitCode int, uptime time.Duration)
}

// NotifyExited calls ProcessExited on every observer that implements it.
func NotifyExited(observers []Observer, h *process.Handle, exitCode int, uptime time.Duration) {
	for _, o := range observers {
		if eo, ok := o.(ExitObserver); ok {
			eo.ProcessExited(h, exitCode, uptime)
		}
	}
}

// Config holds configuration for a Launcher.
type Config struct {
	Config    *config.Config
	Spawner   Spawner
	Clock     scheduler.Clock // nil = real time
	Logger    *slog.Logger
	Observers []Observer
}

// Result summarizes one launch.
type Result struct {
	Tracker  *process.Handle
	Nodes    []*process.Handle
	Failures int
	Elapsed  time.Duration
}

// Launcher runs the startup protocol once.
type Launcher struct {
	cfg       *config.Config
	spawner   Spawner
	clock     scheduler.Clock
	logger    *slog.Logger
	observers []Observer

	mu    sync.Mutex
	sched *scheduler.StartupScheduler
}

// New creates a Launcher.
func New(cfg Config) *Launcher {
	clock := cfg.Clock
	if clock == nil {
		clock = scheduler.RealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Launcher{
		cfg:       cfg.Config,
		spawner:   cfg.Spawner,
		clock:     clock,
		logger:    logger,
		observers: cfg.Observers,
	}
}

// Launch spawns the tracker and then every node. A tracker failure aborts the
// launch before any node is scheduled; node failures are counted and skipped.
// Launch returns once the schedule is done and never waits for the processes.
func (l *Launcher) Launch(ctx context.Context, target process.Target) (*Result, error) {
	start := l.clock.Now()
	res := &Result{}

	trackerSpec := process.TrackerSpec(l.cfg, target)
	tracker, err := l.spawner.Spawn(ctx, trackerSpec)
	if err != nil {
		l.notifyFailed(trackerSpec, err)
		return nil, fmt.Errorf("spawn tracker: %w", err)
	}
	res.Tracker = tracker
	l.notifySpawned(tracker)

	l.logger.Info("tracker_started",
		"id", tracker.ID,
		"tracker_addr", l.cfg.TrackerAddr(),
		"nodes", l.cfg.Nodes,
		"duration", process.FormatDuration(l.cfg.Duration),
		"estimated_ramp", scheduler.EstimatedDuration(l.cfg.Nodes, l.cfg.StartInterval).String(),
	)

	var nodesMu sync.Mutex
	sched := scheduler.New(scheduler.Config{
		Target:   l.cfg.Nodes,
		Interval: l.cfg.StartInterval,
		Clock:    l.clock,
		Logger:   l.logger,
		Spawn: func(ctx context.Context, identity int) error {
			spec := process.NodeSpec(l.cfg, target, identity)
			h, err := l.spawner.Spawn(ctx, spec)
			if err != nil {
				l.notifyFailed(spec, err)
				return err
			}
			nodesMu.Lock()
			res.Nodes = append(res.Nodes, h)
			nodesMu.Unlock()
			l.notifySpawned(h)
			return nil
		},
	})

	l.mu.Lock()
	l.sched = sched
	l.mu.Unlock()

	runErr := sched.Run(ctx)

	nodesMu.Lock()
	defer nodesMu.Unlock()
	res.Failures = sched.Failures()
	res.Elapsed = l.clock.Now().Sub(start)

	if runErr != nil {
		return res, fmt.Errorf("node schedule interrupted after %d of %d: %w",
			sched.Launched(), sched.Target(), runErr)
	}

	l.logger.Info("launch_complete",
		"nodes", len(res.Nodes),
		"failures", res.Failures,
		"elapsed", res.Elapsed.String(),
	)
	return res, nil
}

// Progress reports how many nodes have been handed out so far.
// It returns 0, target before the tracker is up.
func (l *Launcher) Progress() (launched, target int) {
	l.mu.Lock()
	sched := l.sched
	l.mu.Unlock()
	if sched == nil {
		return 0, l.cfg.Nodes
	}
	return sched.Launched(), sched.Target()
}

func (l *Launcher) notifySpawned(h *process.Handle) {
	for _, o := range l.observers {
		o.ProcessSpawned(h)
	}
	h.Announce()
}

func (l *Launcher) notifyFailed(spec process.Spec, err error) {
	for _, o := range l.observers {
		o.SpawnFailed(spec, err)
	}
}

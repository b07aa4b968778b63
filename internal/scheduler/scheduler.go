// Package scheduler staggers node launches so the tracker is not hit by every
// node at once. The first node is launched as soon as scheduling starts, the
// rest one per interval, and the ticker is released on the tick that reaches
// the target.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
)

// State is the scheduler's position in its two-state machine.
type State int32

const (
	// StateScheduling means launched < target and ticks still spawn.
	StateScheduling State = iota

	// StateDone means the target was reached and the ticker is released.
	StateDone
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateScheduling:
		return "scheduling"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// SpawnFunc launches node identity. An error is logged and counted; the
// identity is consumed either way.
type SpawnFunc func(ctx context.Context, identity int) error

// Config holds configuration for a StartupScheduler.
type Config struct {
	Target   int           // number of nodes to launch
	Interval time.Duration // delay between launches
	Spawn    SpawnFunc
	Clock    Clock // nil = RealClock()
	Logger   *slog.Logger
}

// StartupScheduler launches nodes 1..Target, one per tick.
//
// The counter is written only by the goroutine calling Tick/Run. It is
// atomic so that dashboards and tests can read it from elsewhere.
type StartupScheduler struct {
	target   int
	interval time.Duration
	spawn    SpawnFunc
	clock    Clock
	logger   *slog.Logger

	launched atomic.Int64
	failures atomic.Int64
	state    atomic.Int32
}

// New creates a StartupScheduler.
func New(cfg Config) *StartupScheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	target := cfg.Target
	if target < 0 {
		target = 0
	}
	return &StartupScheduler{
		target:   target,
		interval: cfg.Interval,
		spawn:    cfg.Spawn,
		clock:    clock,
		logger:   logger,
	}
}

// Tick runs one step of the state machine and reports whether the scheduler
// is done. A tick in StateDone does nothing.
func (s *StartupScheduler) Tick(ctx context.Context) bool {
	if s.State() == StateDone {
		return true
	}

	launched := int(s.launched.Load())
	if launched >= s.target {
		s.finish()
		return true
	}

	identity := launched + 1
	s.launched.Store(int64(identity))

	if err := s.spawn(ctx, identity); err != nil {
		s.failures.Add(1)
		s.logger.Warn("node_spawn_failed",
			"identity", identity,
			"error", err,
		)
	} else {
		s.logger.Debug("node_scheduled",
			"identity", identity,
			"target", s.target,
		)
	}

	if identity >= s.target {
		s.finish()
		return true
	}
	return false
}

func (s *StartupScheduler) finish() {
	s.state.Store(int32(StateDone))
	s.logger.Info("schedule_complete",
		"launched", s.launched.Load(),
		"failures", s.failures.Load(),
	)
}

// Run drives the scheduler until it is done or ctx is cancelled. The first
// tick happens immediately; no ticker is created if that tick finishes.
func (s *StartupScheduler) Run(ctx context.Context) error {
	if s.Tick(ctx) {
		return nil
	}

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Warn("schedule_interrupted",
				"launched", s.launched.Load(),
				"target", s.target,
			)
			return ctx.Err()
		case <-ticker.C():
			if s.Tick(ctx) {
				return nil
			}
		}
	}
}

// State returns the current state.
func (s *StartupScheduler) State() State {
	return State(s.state.Load())
}

// Launched returns the number of identities handed out so far.
func (s *StartupScheduler) Launched() int {
	return int(s.launched.Load())
}

// Failures returns the number of spawn attempts that returned an error.
func (s *StartupScheduler) Failures() int {
	return int(s.failures.Load())
}

// Target returns the configured node count.
func (s *StartupScheduler) Target() int {
	return s.target
}

// EstimatedDuration returns how long scheduling takes for n nodes at interval.
func EstimatedDuration(n int, interval time.Duration) time.Duration {
	if n <= 1 {
		return 0
	}
	return time.Duration(n-1) * interval
}

package tui

import (
	"sort"
	"sync"
	"time"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
)

// ProcessRow is one line of the process table.
type ProcessRow struct {
	Role     process.Role
	Identity int
	Port     int
	ID       string
	Status   string // "running", "exited", "failed"
	ExitCode int
	Uptime   time.Duration
	Error    string
}

// Snapshot is a point-in-time copy of the board for rendering.
type Snapshot struct {
	Target        int
	HandedOut     int
	Failures      int
	Running       int
	Tracker       *ProcessRow
	Nodes         []ProcessRow
	TrackerOutput []string
	LaunchDone    bool
	LaunchErr     error
}

// Source provides board snapshots to the model.
type Source interface {
	Snapshot() Snapshot
}

type failure struct {
	spec process.Spec
	err  error
}

// Board collects launch events for the dashboard. It implements the
// orchestrator's Observer interface and is safe for concurrent use.
type Board struct {
	target int
	now    func() time.Time

	mu            sync.Mutex
	tracker       *process.Handle
	trackerFailed *failure
	nodes         map[int]*process.Handle
	failed        map[int]failure
	trackerOut    *logging.OutputHandler
	launchDone    bool
	launchErr     error
}

// NewBoard creates a board for target nodes.
func NewBoard(target int) *Board {
	return &Board{
		target: target,
		now:    time.Now,
		nodes:  make(map[int]*process.Handle),
		failed: make(map[int]failure),
	}
}

// ProcessSpawned records a running process.
func (b *Board) ProcessSpawned(h *process.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h.Role == process.RoleTracker {
		b.tracker = h
		return
	}
	b.nodes[h.Identity] = h
}

// SpawnFailed records a process that never started.
func (b *Board) SpawnFailed(spec process.Spec, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if spec.Role == process.RoleTracker {
		b.trackerFailed = &failure{spec: spec, err: err}
		return
	}
	b.failed[spec.Identity] = failure{spec: spec, err: err}
}

// SetTrackerOutput attaches the handler capturing the tracker's output.
func (b *Board) SetTrackerOutput(h *logging.OutputHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trackerOut = h
}

// LaunchFinished marks the schedule as done, with the launch error if any.
func (b *Board) LaunchFinished(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launchDone = true
	b.launchErr = err
}

// Snapshot implements Source.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	s := Snapshot{
		Target:     b.target,
		HandedOut:  len(b.nodes) + len(b.failed),
		Failures:   len(b.failed),
		LaunchDone: b.launchDone,
		LaunchErr:  b.launchErr,
	}

	switch {
	case b.tracker != nil:
		row := handleRow(b.tracker, now)
		s.Tracker = &row
		if b.tracker.Running() {
			s.Running++
		}
	case b.trackerFailed != nil:
		row := failedRow(*b.trackerFailed)
		s.Tracker = &row
	}

	for _, h := range b.nodes {
		s.Nodes = append(s.Nodes, handleRow(h, now))
		if h.Running() {
			s.Running++
		}
	}
	for _, f := range b.failed {
		s.Nodes = append(s.Nodes, failedRow(f))
	}
	sort.Slice(s.Nodes, func(i, j int) bool {
		return s.Nodes[i].Identity < s.Nodes[j].Identity
	})

	if b.trackerOut != nil {
		s.TrackerOutput = b.trackerOut.RecentLines(trackerOutputLines)
	}
	return s
}

func handleRow(h *process.Handle, now time.Time) ProcessRow {
	status, code := h.Status()
	return ProcessRow{
		Role:     h.Role,
		Identity: h.Identity,
		Port:     h.Port,
		ID:       h.ID,
		Status:   status.String(),
		ExitCode: code,
		Uptime:   h.Uptime(now),
	}
}

func failedRow(f failure) ProcessRow {
	return ProcessRow{
		Role:     f.spec.Role,
		Identity: f.spec.Identity,
		Port:     f.spec.Port,
		Status:   "failed",
		Error:    f.err.Error(),
	}
}

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/config"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/scheduler"
)

// =============================================================================
// Mocks
// =============================================================================

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type spawnCall struct {
	spec process.Spec
	at   time.Duration
}

// recordingSpawner records every spawn with its simulated time.
type recordingSpawner struct {
	mu     sync.Mutex
	clock  *scheduler.FakeClock
	calls  []spawnCall
	failFn func(spec process.Spec) error
}

func (r *recordingSpawner) Spawn(ctx context.Context, spec process.Spec) (*process.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, spawnCall{spec, r.clock.Now().Sub(epoch)})
	if r.failFn != nil {
		if err := r.failFn(spec); err != nil {
			return nil, err
		}
	}
	return process.NewHandle(fmt.Sprintf("fake-%d", len(r.calls)), spec, r.clock.Now()), nil
}

func (r *recordingSpawner) snapshot() []spawnCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]spawnCall, len(r.calls))
	copy(out, r.calls)
	return out
}

type recordingObserver struct {
	mu      sync.Mutex
	spawned []string
	failed  []string
}

func (o *recordingObserver) ProcessSpawned(h *process.Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spawned = append(o.spawned, string(h.Role))
}

func (o *recordingObserver) SpawnFailed(spec process.Spec, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, spec.Name())
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scenarioConfig(nodes int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Nodes = nodes
	cfg.Duration = 10 * time.Minute
	cfg.Experiments = []string{"e1"}
	cfg.InitialSeed = 42
	cfg.ReportPath = "/tmp/report"
	return cfg
}

var testTarget = process.Target{Binary: "java", Jar: "gsfd.jar", Dir: "/opt/gsfd"}

// launchAsync runs Launch in a goroutine and steps simulated time one
// interval at a time until it returns.
func launchAsync(t *testing.T, l *Launcher, clock *scheduler.FakeClock, interval time.Duration) (*Result, error) {
	t.Helper()
	type out struct {
		res *Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := l.Launch(context.Background(), testTarget)
		done <- out{res, err}
	}()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case o := <-done:
			return o.res, o.err
		case <-deadline:
			t.Fatal("Launch did not finish")
			return nil, nil
		default:
		}
		before, target := l.Progress()
		if clock.ActiveTickers() == 1 && before < target {
			clock.Advance(interval)
			waitProgress(t, l, before)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

// waitProgress waits until the launcher moved past before or finished.
func waitProgress(t *testing.T, l *Launcher, before int) {
	t.Helper()
	end := time.Now().Add(5 * time.Second)
	for time.Now().Before(end) {
		launched, target := l.Progress()
		if launched > before || launched >= target {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no progress after tick")
}

// =============================================================================
// Launch
// =============================================================================

func TestLaunch_Scenario(t *testing.T) {
	clock := scheduler.NewFakeClock(epoch)
	sp := &recordingSpawner{clock: clock}
	l := New(Config{Config: scenarioConfig(3), Spawner: sp, Clock: clock, Logger: newTestLogger()})

	res, err := launchAsync(t, l, clock, 2*time.Second)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	clock.Advance(time.Minute)
	calls := sp.snapshot()
	if len(calls) != 4 {
		t.Fatalf("spawns = %d, want 4 (tracker + 3 nodes)", len(calls))
	}

	tracker := calls[0].spec
	if tracker.Role != process.RoleTracker {
		t.Fatalf("first spawn role = %s", tracker.Role)
	}
	wantEnv := "DURATION=10m EXPERIMENTS=e1 INITIAL_SEED=42 NODES=3 REPORT_PATH=/tmp/report"
	if got := strings.Join(tracker.EnvList(), " "); got != wantEnv {
		t.Errorf("tracker env = %q, want %q", got, wantEnv)
	}
	if tracker.Dir != "/opt/gsfd" || strings.Join(tracker.Args, " ") != "-jar gsfd.jar tracker" {
		t.Errorf("tracker launch = %+v", tracker)
	}

	wantNodes := []struct {
		id, port int
		at       time.Duration
	}{
		{1, 10001, 0},
		{2, 10002, 2 * time.Second},
		{3, 10003, 4 * time.Second},
	}
	for i, w := range wantNodes {
		c := calls[i+1]
		if c.spec.Role != process.RoleNode {
			t.Errorf("spawn %d role = %s", i+1, c.spec.Role)
		}
		if c.spec.Env["ID"] != fmt.Sprint(w.id) || c.spec.Env["PORT"] != fmt.Sprint(w.port) {
			t.Errorf("node %d env = %v", i+1, c.spec.Env)
		}
		if c.at != w.at {
			t.Errorf("node %d spawned at %v, want %v", w.id, c.at, w.at)
		}
		if got := strings.Join(c.spec.Args, " "); got != "-jar gsfd.jar node 127.0.0.1 10000" {
			t.Errorf("node %d args = %q", w.id, got)
		}
	}

	if res.Tracker == nil || len(res.Nodes) != 3 || res.Failures != 0 {
		t.Errorf("result = %+v", res)
	}
	if res.Elapsed != 4*time.Second {
		t.Errorf("Elapsed = %v, want 4s", res.Elapsed)
	}
}

func TestLaunch_TrackerBeforeNodes(t *testing.T) {
	for _, n := range []int{0, 1, 4} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			clock := scheduler.NewFakeClock(epoch)
			sp := &recordingSpawner{clock: clock}
			l := New(Config{Config: scenarioConfig(n), Spawner: sp, Clock: clock, Logger: newTestLogger()})

			if _, err := launchAsync(t, l, clock, 2*time.Second); err != nil {
				t.Fatal(err)
			}
			calls := sp.snapshot()
			if len(calls) != n+1 {
				t.Fatalf("spawns = %d, want %d", len(calls), n+1)
			}
			trackers := 0
			for i, c := range calls {
				if c.spec.Role == process.RoleTracker {
					trackers++
					if i != 0 {
						t.Errorf("tracker spawned at position %d", i)
					}
				}
			}
			if trackers != 1 {
				t.Errorf("trackers = %d", trackers)
			}
		})
	}
}

// announceCheck fails the test if a handle is already announced when an
// observer first sees it.
type announceCheck struct {
	t       *testing.T
	mu      sync.Mutex
	handles []*process.Handle
}

func (a *announceCheck) ProcessSpawned(h *process.Handle) {
	select {
	case <-h.Announced():
		a.t.Errorf("%s announced before observers ran", h.ID)
	default:
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handles = append(a.handles, h)
}

func (a *announceCheck) SpawnFailed(process.Spec, error) {}

func TestLaunch_AnnouncesAfterObservers(t *testing.T) {
	clock := scheduler.NewFakeClock(epoch)
	sp := &recordingSpawner{clock: clock}
	check := &announceCheck{t: t}
	l := New(Config{Config: scenarioConfig(3), Spawner: sp, Clock: clock, Logger: newTestLogger(), Observers: []Observer{check}})

	if _, err := launchAsync(t, l, clock, 2*time.Second); err != nil {
		t.Fatal(err)
	}

	check.mu.Lock()
	defer check.mu.Unlock()
	if len(check.handles) != 4 {
		t.Fatalf("handles observed = %d, want 4", len(check.handles))
	}
	for _, h := range check.handles {
		select {
		case <-h.Announced():
		default:
			t.Errorf("%s not announced after launch", h.ID)
		}
	}
}

func TestLaunch_LogsTrackerAddr(t *testing.T) {
	var buf bytes.Buffer
	clock := scheduler.NewFakeClock(epoch)
	sp := &recordingSpawner{clock: clock}
	cfg := scenarioConfig(0)
	cfg.TrackerHost = "10.0.0.5"
	cfg.TrackerPort = 12000
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	l := New(Config{Config: cfg, Spawner: sp, Clock: clock, Logger: logger})

	if _, err := launchAsync(t, l, clock, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "tracker_addr=10.0.0.5:12000") {
		t.Errorf("tracker address not logged: %q", buf.String())
	}
}

func TestLaunch_TrackerFailureIsFatal(t *testing.T) {
	clock := scheduler.NewFakeClock(epoch)
	boom := errors.New("exec: \"java\": executable file not found in $PATH")
	sp := &recordingSpawner{clock: clock, failFn: func(spec process.Spec) error {
		if spec.Role == process.RoleTracker {
			return boom
		}
		return nil
	}}
	obs := &recordingObserver{}
	l := New(Config{Config: scenarioConfig(3), Spawner: sp, Clock: clock, Observers: []Observer{obs}})

	_, err := l.Launch(context.Background(), testTarget)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if len(sp.snapshot()) != 1 {
		t.Errorf("nodes spawned after tracker failure")
	}
	if clock.TickersCreated() != 0 {
		t.Error("scheduler ticker created after tracker failure")
	}
	if len(obs.failed) != 1 || obs.failed[0] != "tracker" {
		t.Errorf("observer failures = %v", obs.failed)
	}
}

func TestLaunch_NodeFailureContinues(t *testing.T) {
	clock := scheduler.NewFakeClock(epoch)
	sp := &recordingSpawner{clock: clock, failFn: func(spec process.Spec) error {
		if spec.Identity == 2 {
			return errors.New("fork: resource temporarily unavailable")
		}
		return nil
	}}
	obs := &recordingObserver{}
	l := New(Config{Config: scenarioConfig(3), Spawner: sp, Clock: clock, Observers: []Observer{obs}})

	res, err := launchAsync(t, l, clock, 2*time.Second)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if res.Failures != 1 || len(res.Nodes) != 2 {
		t.Errorf("result nodes=%d failures=%d", len(res.Nodes), res.Failures)
	}
	if res.Nodes[1].Identity != 3 {
		t.Errorf("identity after failure = %d, want 3", res.Nodes[1].Identity)
	}
	if strings.Join(obs.spawned, ",") != "tracker,node,node" {
		t.Errorf("observer spawned = %v", obs.spawned)
	}
	if strings.Join(obs.failed, ",") != "node-2" {
		t.Errorf("observer failed = %v", obs.failed)
	}
}

func TestLaunch_Cancelled(t *testing.T) {
	clock := scheduler.NewFakeClock(epoch)
	sp := &recordingSpawner{clock: clock}
	l := New(Config{Config: scenarioConfig(5), Spawner: sp, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := l.Launch(ctx, testTarget)
		errCh <- err
	}()

	waitProgress(t, l, 0)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Launch did not return after cancel")
	}
	if len(sp.snapshot()) != 2 {
		t.Errorf("spawns = %d, want tracker + node 1", len(sp.snapshot()))
	}
}

func TestProgress_BeforeLaunch(t *testing.T) {
	l := New(Config{Config: scenarioConfig(4)})
	launched, target := l.Progress()
	if launched != 0 || target != 4 {
		t.Errorf("Progress() = %d/%d", launched, target)
	}
}

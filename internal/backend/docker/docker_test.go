package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/artifact"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/backend"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/config"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/scheduler"
)

// =============================================================================
// Fake engine
// =============================================================================

type fakeEngine struct {
	mu         sync.Mutex
	containers []containerInfo
	specs      []containerSpec
	removed    []string
	pulled     []string
	copied     []string

	runErr    error
	startErr  error // container is created, then fails to start
	removeErr map[string]error
	logs      []byte
	report    []byte
	closed    bool
}

func (f *fakeEngine) EnsureImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, ref)
	return nil
}

func (f *fakeEngine) Run(_ context.Context, spec containerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.runErr != nil {
		return "", f.runErr
	}
	id := fmt.Sprintf("%064d", len(f.specs))
	if f.startErr != nil {
		f.containers = append(f.containers, containerInfo{ID: id, Name: "/" + spec.Name, State: "created", Labels: spec.Labels})
		return id, f.startErr
	}
	f.containers = append(f.containers, containerInfo{ID: id, Name: "/" + spec.Name, State: "running", Labels: spec.Labels})
	return id, nil
}

func (f *fakeEngine) List(_ context.Context, labels map[string]string) ([]containerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []containerInfo
	for _, c := range f.containers {
		match := true
		for k, v := range labels {
			if c.Labels[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeEngine) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[id]; err != nil {
		return err
	}
	f.removed = append(f.removed, id)
	kept := f.containers[:0]
	for _, c := range f.containers {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	f.containers = kept
	return nil
}

func (f *fakeEngine) Logs(_ context.Context, _ string, _ bool) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.logs)), nil
}

func (f *fakeEngine) CopyFrom(_ context.Context, _ string, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copied = append(f.copied, path)
	return io.NopCloser(bytes.NewReader(f.report)), nil
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

func (f *fakeEngine) add(c containerInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers = append(f.containers, c)
}

// =============================================================================
// Helpers
// =============================================================================

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func artifactDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "gsfd.jar"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestBackend(t *testing.T, cfg *config.Config, eng *fakeEngine, clock scheduler.Clock) (*Backend, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	deps := backend.Deps{
		Config:  cfg,
		Logger:  logging.NewDiscardLogger(),
		Locator: artifact.Prebuilt{Dir: artifactDir(t), Jar: cfg.JarName},
		Clock:   clock,
		Stdout:  &stdout,
		Stderr:  &stderr,
	}
	return newBackend(deps, eng), &stdout, &stderr
}

func dockerConfig(nodes int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendDocker
	cfg.Deployment = "nightly"
	cfg.Nodes = nodes
	return cfg
}

func trackerContainer(deployment string) containerInfo {
	return containerInfo{
		ID:   "trackerid0000000",
		Name: "/" + deployment + "-tracker",
		Labels: map[string]string{
			LabelDeployment: deployment,
			LabelRole:       "tracker",
			LabelIdentity:   "0",
		},
	}
}

// runStart drives Start on a fake clock until it returns.
func runStart(t *testing.T, b *Backend, eng *fakeEngine, clock *scheduler.FakeClock, nodes int) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- b.Start(context.Background()) }()

	count := func() int {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.specs)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatal("Start did not finish")
			return nil
		default:
		}
		before := count()
		if clock.ActiveTickers() == 1 && before-1 < nodes {
			clock.Advance(b.deps.Config.StartInterval)
			for count() == before {
				select {
				case err := <-done:
					return err
				default:
					time.Sleep(time.Millisecond)
				}
			}
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

// =============================================================================
// Start
// =============================================================================

func TestStart_RunsLabelledContainers(t *testing.T) {
	cfg := dockerConfig(2)
	eng := &fakeEngine{}
	clock := scheduler.NewFakeClock(epoch)
	b, _, _ := newTestBackend(t, cfg, eng, clock)

	if err := runStart(t, b, eng, clock, cfg.Nodes); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(eng.pulled) != 1 || eng.pulled[0] != cfg.DockerImage {
		t.Errorf("pulled = %v", eng.pulled)
	}
	if len(eng.specs) != 3 {
		t.Fatalf("containers = %d, want 3", len(eng.specs))
	}

	tracker := eng.specs[0]
	if tracker.Name != "nightly-tracker" {
		t.Errorf("tracker name = %q", tracker.Name)
	}
	if got := strings.Join(tracker.Cmd, " "); got != "java -jar /artifact/gsfd.jar tracker" {
		t.Errorf("tracker cmd = %q", got)
	}
	if tracker.WorkingDir != "/work" {
		t.Errorf("WorkingDir = %q", tracker.WorkingDir)
	}
	if !contains(tracker.Env, "NODES=2") || !contains(tracker.Env, "DURATION=10m") {
		t.Errorf("tracker env = %v", tracker.Env)
	}
	if tracker.Labels[LabelRun] != b.RunID() || tracker.Labels[LabelRole] != "tracker" {
		t.Errorf("tracker labels = %v", tracker.Labels)
	}

	for i, spec := range eng.specs[1:] {
		id := i + 1
		if spec.Name != fmt.Sprintf("nightly-node-%d", id) {
			t.Errorf("node name = %q", spec.Name)
		}
		if got := strings.Join(spec.Cmd, " "); got != "java -jar /artifact/gsfd.jar node 127.0.0.1 10000" {
			t.Errorf("node cmd = %q", got)
		}
		if !contains(spec.Env, fmt.Sprintf("PORT=%d", 10000+id)) {
			t.Errorf("node env = %v", spec.Env)
		}
		if spec.Labels[LabelIdentity] != fmt.Sprint(id) || spec.Labels[LabelDeployment] != "nightly" {
			t.Errorf("node labels = %v", spec.Labels)
		}
		if spec.ArtifactDir == "" {
			t.Error("artifact dir not mounted")
		}
	}

	if res := b.Result(); res == nil || res.Tracker == nil || len(res.Tracker.ID) != 12 {
		t.Errorf("result = %+v", res)
	}
}

func TestStart_RefusesExistingDeployment(t *testing.T) {
	cfg := dockerConfig(1)
	eng := &fakeEngine{}
	eng.add(trackerContainer("nightly"))
	b, _, _ := newTestBackend(t, cfg, eng, scheduler.NewFakeClock(epoch))

	err := b.Start(context.Background())
	if !errors.Is(err, ErrDeploymentExists) {
		t.Fatalf("err = %v, want ErrDeploymentExists", err)
	}
	if len(eng.specs) != 0 {
		t.Error("containers started for an existing deployment")
	}
}

func TestStart_ArtifactMissing(t *testing.T) {
	cfg := dockerConfig(1)
	eng := &fakeEngine{}
	clock := scheduler.NewFakeClock(epoch)
	b := newBackend(backend.Deps{
		Config:  cfg,
		Logger:  logging.NewDiscardLogger(),
		Locator: artifact.Prebuilt{Dir: t.TempDir(), Jar: cfg.JarName},
		Clock:   clock,
	}, eng)

	var are *backend.ArtifactResolutionError
	if err := b.Start(context.Background()); !errors.As(err, &are) {
		t.Fatalf("err = %v, want ArtifactResolutionError", err)
	}
	if len(eng.specs) != 0 || len(eng.pulled) != 0 || clock.TickersCreated() != 0 {
		t.Error("artifact failure had side effects")
	}
}

func TestStart_TrackerFailure(t *testing.T) {
	cfg := dockerConfig(3)
	eng := &fakeEngine{runErr: errors.New("port is already allocated")}
	clock := scheduler.NewFakeClock(epoch)
	b, _, _ := newTestBackend(t, cfg, eng, clock)

	err := b.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "spawn tracker") {
		t.Fatalf("err = %v", err)
	}
	if len(eng.specs) != 1 {
		t.Errorf("run attempts = %d, want 1", len(eng.specs))
	}
	if clock.TickersCreated() != 0 {
		t.Error("scheduler started after tracker failure")
	}
}

func TestStart_RemovesContainerThatFailedToStart(t *testing.T) {
	cfg := dockerConfig(1)
	eng := &fakeEngine{startErr: errors.New("port is already allocated")}
	clock := scheduler.NewFakeClock(epoch)
	b, _, _ := newTestBackend(t, cfg, eng, clock)

	if err := b.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "port is already allocated") {
		t.Fatalf("err = %v", err)
	}
	eng.mu.Lock()
	left, removed := len(eng.containers), len(eng.removed)
	eng.startErr = nil
	eng.specs = nil
	eng.mu.Unlock()
	if left != 0 || removed != 1 {
		t.Fatalf("containers left = %d, removed = %d, want 0 and 1", left, removed)
	}

	if err := runStart(t, b, eng, clock, cfg.Nodes); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := len(eng.containers); got != 2 {
		t.Errorf("containers after retry = %d, want 2", got)
	}
}

func TestStart_StartFailureReportsRemoveError(t *testing.T) {
	cfg := dockerConfig(1)
	id := fmt.Sprintf("%064d", 1)
	eng := &fakeEngine{
		startErr:  errors.New("port is already allocated"),
		removeErr: map[string]error{id: errors.New("daemon unavailable")},
	}
	b, _, _ := newTestBackend(t, cfg, eng, scheduler.NewFakeClock(epoch))

	err := b.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "port is already allocated") || !strings.Contains(err.Error(), "daemon unavailable") {
		t.Fatalf("err = %v, want start and remove failures", err)
	}
}

// =============================================================================
// Shutdown
// =============================================================================

func TestShutdown_RemovesDeploymentOnly(t *testing.T) {
	eng := &fakeEngine{}
	eng.add(trackerContainer("nightly"))
	eng.add(containerInfo{ID: "node1", Labels: map[string]string{LabelDeployment: "nightly", LabelRole: "node"}})
	eng.add(containerInfo{ID: "other", Labels: map[string]string{LabelDeployment: "other", LabelRole: "node"}})

	b, _, _ := newTestBackend(t, dockerConfig(1), eng, nil)
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(eng.removed) != 2 {
		t.Errorf("removed = %v, want tracker and node1", eng.removed)
	}
	if len(eng.containers) != 1 || eng.containers[0].ID != "other" {
		t.Errorf("remaining = %+v", eng.containers)
	}
}

func TestShutdown_Empty(t *testing.T) {
	b, _, _ := newTestBackend(t, dockerConfig(1), &fakeEngine{}, nil)
	if err := b.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown of missing deployment: %v", err)
	}
}

func TestShutdown_JoinsErrors(t *testing.T) {
	eng := &fakeEngine{removeErr: map[string]error{"node1": errors.New("device busy")}}
	eng.add(trackerContainer("nightly"))
	eng.add(containerInfo{ID: "node1", Name: "/nightly-node-1", Labels: map[string]string{LabelDeployment: "nightly"}})

	b, _, _ := newTestBackend(t, dockerConfig(1), eng, nil)
	err := b.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "device busy") {
		t.Fatalf("err = %v", err)
	}
	if len(eng.removed) != 1 {
		t.Errorf("removed = %v, tracker should still be removed", eng.removed)
	}
}

// =============================================================================
// DownloadReport
// =============================================================================

func tarOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, body := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDownloadReport(t *testing.T) {
	cfg := dockerConfig(1)
	cfg.ReportDest = filepath.Join(t.TempDir(), "reports")
	eng := &fakeEngine{report: tarOf(t, map[string]string{"report.json": `{"ok":true}`})}
	eng.add(trackerContainer("nightly"))

	b, stdout, _ := newTestBackend(t, cfg, eng, nil)
	if err := b.DownloadReport(context.Background()); err != nil {
		t.Fatalf("DownloadReport: %v", err)
	}

	if len(eng.copied) != 1 || eng.copied[0] != "/work/report.json" {
		t.Errorf("copied = %v", eng.copied)
	}
	data, err := os.ReadFile(filepath.Join(cfg.ReportDest, "report.json"))
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("report = %q", data)
	}
	if !strings.Contains(stdout.String(), "report.json") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestDownloadReport_AbsolutePath(t *testing.T) {
	cfg := dockerConfig(1)
	cfg.ReportPath = "/tmp/report"
	cfg.ReportDest = t.TempDir()
	eng := &fakeEngine{report: tarOf(t, map[string]string{"report": "x"})}
	eng.add(trackerContainer("nightly"))

	b, _, _ := newTestBackend(t, cfg, eng, nil)
	if err := b.DownloadReport(context.Background()); err != nil {
		t.Fatal(err)
	}
	if eng.copied[0] != "/tmp/report" {
		t.Errorf("copied = %v", eng.copied)
	}
}

func TestDownloadReport_NoTracker(t *testing.T) {
	b, _, _ := newTestBackend(t, dockerConfig(1), &fakeEngine{}, nil)
	err := b.DownloadReport(context.Background())
	if !errors.Is(err, ErrNoTracker) {
		t.Errorf("err = %v, want ErrNoTracker", err)
	}
}

func TestDownloadReport_EmptyArchive(t *testing.T) {
	cfg := dockerConfig(1)
	cfg.ReportDest = t.TempDir()
	eng := &fakeEngine{report: tarOf(t, nil)}
	eng.add(trackerContainer("nightly"))

	b, _, _ := newTestBackend(t, cfg, eng, nil)
	if err := b.DownloadReport(context.Background()); err == nil {
		t.Error("expected error for empty report")
	}
}

func TestExtractTar_RejectsTraversal(t *testing.T) {
	archive := tarOf(t, map[string]string{"../evil": "x"})
	_, err := extractTar(bytes.NewReader(archive), t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Errorf("err = %v", err)
	}
}

func TestSafeJoin(t *testing.T) {
	testCases := []struct {
		name    string
		wantErr bool
	}{
		{"report.json", false},
		{"dir/report.json", false},
		{"./a/../b", false},
		{"..", true},
		{"../x", true},
		{"/etc/passwd", true},
	}
	for _, tc := range testCases {
		_, err := safeJoin("/dest", tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("safeJoin(%q) err = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

// =============================================================================
// WatchTrackerLogs
// =============================================================================

func TestWatchTrackerLogs_Demultiplexes(t *testing.T) {
	var stream bytes.Buffer
	if _, err := stdcopy.NewStdWriter(&stream, stdcopy.Stdout).Write([]byte("tracker up\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := stdcopy.NewStdWriter(&stream, stdcopy.Stderr).Write([]byte("WARN slow node\n")); err != nil {
		t.Fatal(err)
	}

	eng := &fakeEngine{logs: stream.Bytes()}
	eng.add(trackerContainer("nightly"))
	b, stdout, stderr := newTestBackend(t, dockerConfig(1), eng, nil)

	if err := b.WatchTrackerLogs(context.Background()); err != nil {
		t.Fatalf("WatchTrackerLogs: %v", err)
	}
	if stdout.String() != "tracker up\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
	if stderr.String() != "WARN slow node\n" {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestWatchTrackerLogs_NoTracker(t *testing.T) {
	b, _, _ := newTestBackend(t, dockerConfig(1), &fakeEngine{}, nil)
	if err := b.WatchTrackerLogs(context.Background()); !errors.Is(err, ErrNoTracker) {
		t.Errorf("err = %v, want ErrNoTracker", err)
	}
}

func TestClose(t *testing.T) {
	eng := &fakeEngine{}
	b, _, _ := newTestBackend(t, dockerConfig(1), eng, nil)
	if err := b.Close(); err != nil || !eng.closed {
		t.Errorf("Close() = %v, closed = %v", err, eng.closed)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

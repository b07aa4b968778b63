package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "gsfd.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSQLiteStore_Runs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		err := s.RecordRun(ctx, Run{
			ID: id, Backend: "local", Deployment: "gsfd", Nodes: i + 1,
			StartedAt: t0.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	runs, err := s.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "run-c" || runs[2].ID != "run-a" {
		t.Errorf("Runs order = %+v", runs)
	}
	if !runs[0].StartedAt.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("StartedAt = %v", runs[0].StartedAt)
	}

	limited, err := s.Runs(ctx, 2)
	if err != nil || len(limited) != 2 {
		t.Errorf("Runs(2) = %d, %v", len(limited), err)
	}

	got, err := s.GetRun(ctx, "run-b")
	if err != nil || got.Nodes != 2 || got.Backend != "local" {
		t.Errorf("GetRun = %+v, %v", got, err)
	}
	if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) err = %v", err)
	}
}

func TestSQLiteStore_SubSecondOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.RecordRun(ctx, Run{ID: "whole", Backend: "local", Deployment: "d", StartedAt: t0})
	s.RecordRun(ctx, Run{ID: "later", Backend: "local", Deployment: "d", StartedAt: t0.Add(100 * time.Millisecond)})

	runs, err := s.Runs(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if runs[0].ID != "later" {
		t.Errorf("newest run = %q, want later", runs[0].ID)
	}
}

func TestSQLiteStore_Processes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.RecordRun(ctx, Run{ID: "r1", Backend: "local", Deployment: "gsfd", Nodes: 2, StartedAt: t0}); err != nil {
		t.Fatal(err)
	}

	procs := []Process{
		{RunID: "r1", Role: "tracker", Port: 10000, HandleID: "pid-10", StartedAt: t0},
		{RunID: "r1", Role: "node", Identity: 1, Port: 10001, HandleID: "pid-11", StartedAt: t0},
		{RunID: "r1", Role: "node", Identity: 2, Port: 10002, StartedAt: t0, Error: "exec: not found"},
	}
	for _, p := range procs {
		if err := s.RecordProcess(ctx, p); err != nil {
			t.Fatalf("RecordProcess: %v", err)
		}
	}
	if err := s.MarkExited(ctx, "r1", "pid-11", 143, t0.Add(time.Minute)); err != nil {
		t.Fatalf("MarkExited: %v", err)
	}
	if err := s.MarkExited(ctx, "r1", "pid-99", 0, t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkExited(unknown) err = %v", err)
	}

	got, err := s.Processes(ctx, "r1")
	if err != nil {
		t.Fatalf("Processes: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Role != "tracker" || got[0].Exited {
		t.Errorf("tracker = %+v", got[0])
	}
	if !got[1].Exited || got[1].ExitCode != 143 || !got[1].ExitedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("node 1 = %+v", got[1])
	}
	if got[2].HandleID != "" || got[2].Error != "exec: not found" {
		t.Errorf("failed node = %+v", got[2])
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gsfd.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	s.RecordRun(ctx, Run{ID: "persisted", Backend: "docker", Deployment: "d", StartedAt: t0})
	s.Close()

	s2, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if _, err := s2.GetRun(ctx, "persisted"); err != nil {
		t.Errorf("run lost after reopen: %v", err)
	}
}

func TestRecorder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := BeginRun(ctx, s, Run{Backend: "local", Deployment: "gsfd", Nodes: 1}, newTestLogger())
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if len(rec.RunID()) != 36 {
		t.Errorf("RunID = %q, want a uuid", rec.RunID())
	}

	tracker := process.NewHandle("pid-1", process.Spec{Role: process.RoleTracker, Port: 10000}, t0)
	rec.ProcessSpawned(tracker)
	rec.SpawnFailed(process.Spec{Role: process.RoleNode, Identity: 1, Port: 10001}, errors.New("boom"))
	rec.ProcessExited(tracker, 0, time.Second)

	got, err := s.Processes(ctx, rec.RunID())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("processes = %+v", got)
	}
	if !got[0].Exited || got[0].ExitCode != 0 {
		t.Errorf("tracker = %+v", got[0])
	}
	if got[1].Error != "boom" || got[1].Identity != 1 {
		t.Errorf("failed node = %+v", got[1])
	}
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nebelbild/data-analysis/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRun(id, sessionID string) *domain.Run {
	return &domain.Run{
		ID:        id,
		SessionID: sessionID,
		Request:   "analyze sales",
		FilePath:  "/data/sales.csv",
		OutputDir: "/tmp/out/" + id,
		Status:    domain.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := newTestRun("r1", "sess-a")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}

	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if got.SessionID != "sess-a" || got.Request != "analyze sales" {
		t.Errorf("GetRun() = %+v", got)
	}
	if !got.EndedAt.IsZero() {
		t.Errorf("unfinished run should have zero EndedAt, got %v", got.EndedAt)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); err == nil {
		t.Fatal("GetRun() on unknown id should fail")
	}
}

func TestFinishRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, newTestRun("r1", "sess-a")); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun(ctx, "r1", domain.StatusCompleted, ""); err != nil {
		t.Fatalf("FinishRun() error: %v", err)
	}

	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusCompleted)
	}
	if got.EndedAt.IsZero() {
		t.Error("finished run should have EndedAt set")
	}

	if err := s.FinishRun(ctx, "missing", domain.StatusError, "boom"); err == nil {
		t.Error("FinishRun() on unknown run should fail")
	}
}

func TestListRunsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := newTestRun("r1", "sess-a")
	older.StartedAt = time.Now().UTC().Add(-time.Hour)
	newer := newTestRun("r2", "sess-a")
	other := newTestRun("r3", "sess-b")

	for _, r := range []*domain.Run{older, newer, other} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, "sess-a")
	if err != nil {
		t.Fatalf("ListRuns() error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "r2" || runs[1].ID != "r1" {
		t.Errorf("runs out of order: %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestAppendAndListThreads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, newTestRun("r1", "sess-a")); err != nil {
		t.Fatal(err)
	}

	first := &domain.DataThread{
		ID:        1,
		ProcessID: "sess-a_0_task_0",
		ThreadID:  0,
		Code:      "df.head()",
		Stdout:    "ok",
		Results:   []domain.Result{{Type: domain.ResultText, Data: "ok"}},
		SavedPaths: map[string][]string{
			"images": {"sess-a_0_0.png"},
		},
	}
	second := &domain.DataThread{
		ID:        2,
		ProcessID: "sess-a_0_task_1",
		ThreadID:  0,
		Code:      "1/0",
		Error:     "ZeroDivisionError: division by zero",
	}
	for _, th := range []*domain.DataThread{first, second} {
		if err := s.AppendThread(ctx, "r1", th); err != nil {
			t.Fatalf("AppendThread() error: %v", err)
		}
	}

	threads, err := s.ListThreads(ctx, "r1")
	if err != nil {
		t.Fatalf("ListThreads() error: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("got %d threads, want 2", len(threads))
	}
	if threads[0].ID != 1 || threads[1].ID != 2 {
		t.Errorf("threads out of order: %d, %d", threads[0].ID, threads[1].ID)
	}
	if len(threads[0].Results) != 1 || threads[0].Results[0].Type != domain.ResultText {
		t.Errorf("results not round-tripped: %+v", threads[0].Results)
	}
	if got := threads[0].SavedPaths["images"]; len(got) != 1 || got[0] != "sess-a_0_0.png" {
		t.Errorf("saved paths not round-tripped: %+v", threads[0].SavedPaths)
	}
	if !threads[1].Failed() {
		t.Error("second thread should report failure")
	}
}

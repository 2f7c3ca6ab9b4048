package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/maistro/internal/config"
	"github.com/mtzanidakis/maistro/internal/execution"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func started(id, configID string, at time.Time) execution.Event {
	return execution.Event{
		Kind: execution.EventStarted,
		At:   at,
		Execution: execution.Execution{
			ID:          id,
			ConfigID:    configID,
			ConfigName:  "Config " + configID,
			SessionName: "maistro-" + configID,
			TotalSteps:  2,
			StartedAt:   at,
		},
	}
}

func TestRecordLifecycle(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	ev := started("e1", "c1", at)
	if err := s.Record(ev); err != nil {
		t.Fatalf("record started: %v", err)
	}

	ev.Kind = execution.EventStepCompleted
	ev.Execution.Step = 0
	if err := s.Record(ev); err != nil {
		t.Fatalf("record step: %v", err)
	}

	got, err := s.GetExecution("e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected execution, got nil")
	}
	if got.Status != StatusRunning || got.CompletedSteps != 1 || got.TotalSteps != 2 {
		t.Errorf("unexpected running record %+v", got)
	}
	if got.ConfigName != "Config c1" || got.SessionName != "maistro-c1" {
		t.Errorf("unexpected names %+v", got)
	}
	if !got.StartedAt.Equal(at) {
		t.Errorf("expected started_at %v, got %v", at, got.StartedAt)
	}

	ev.Kind = execution.EventCompleted
	ev.At = at.Add(time.Minute)
	if err := s.Record(ev); err != nil {
		t.Fatalf("record completed: %v", err)
	}
	got, _ = s.GetExecution("e1")
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %q", got.Status)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("unexpected finished_at %v", got.FinishedAt)
	}
}

func TestRecordFailureAndParent(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	child := started("e2", "c2", at)
	child.Execution.ParentID = "e1"
	_ = s.Record(child)

	child.Kind = execution.EventFailed
	child.Err = errors.New("prompt 1: Command exited with code 1. Error output: x")
	if err := s.Record(child); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	got, _ := s.GetExecution("e2")
	if got.Status != StatusFailed || got.ParentID != "e1" {
		t.Errorf("unexpected record %+v", got)
	}
	if got.Error != child.Err.Error() {
		t.Errorf("expected error %q, got %q", child.Err.Error(), got.Error)
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetExecution("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing execution")
	}
}

func TestListExecutions(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	_ = s.Record(started("a1", "a", base))
	_ = s.Record(started("b1", "b", base.Add(time.Minute)))
	_ = s.Record(started("a2", "a", base.Add(2*time.Minute)))

	all, err := s.ListExecutions("", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a2" {
		t.Errorf("expected newest first, got %+v", all)
	}

	onlyA, _ := s.ListExecutions("a", 10)
	if len(onlyA) != 2 {
		t.Errorf("expected 2 executions for a, got %d", len(onlyA))
	}

	limited, _ := s.ListExecutions("", 1)
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}

	empty, _ := s.ListExecutions("none", 10)
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestPruneAndInterrupt(t *testing.T) {
	s := newTestStore(t)
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	done := started("old-done", "c", old)
	_ = s.Record(done)
	done.Kind = execution.EventCompleted
	_ = s.Record(done)

	_ = s.Record(started("old-running", "c", old))
	_ = s.Record(started("recent", "c", recent))

	n, err := s.PruneExecutions(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	if got, _ := s.GetExecution("old-running"); got == nil {
		t.Error("running execution must not be pruned")
	}

	n, err = s.MarkInterrupted()
	if err != nil {
		t.Fatalf("mark interrupted: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 interrupted, got %d", n)
	}
	got, _ := s.GetExecution("recent")
	if got.Status != StatusInterrupted || got.FinishedAt == nil {
		t.Errorf("unexpected record %+v", got)
	}
}

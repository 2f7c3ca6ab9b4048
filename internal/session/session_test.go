package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestName(t *testing.T) {
	if got := Name("abc"); got != "maistro-abc" {
		t.Errorf("expected maistro-abc, got %q", got)
	}
	if Name("abc") != Name("abc") {
		t.Error("expected name to be stable")
	}
}

func TestReset(t *testing.T) {
	s := Store{Dir: t.TempDir()}
	path := s.Path(Name("c1"))
	if filepath.Base(path) != "maistro-c1.jsonl" {
		t.Fatalf("unexpected session path %q", path)
	}

	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(Name("c1")); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected session file removed, stat err = %v", err)
	}

	// Missing history is fine
	if err := s.Reset(Name("never-ran")); err != nil {
		t.Errorf("expected no error for missing session, got %v", err)
	}
}

func TestResetFailure(t *testing.T) {
	dir := t.TempDir()
	s := Store{Dir: dir}
	// A non-empty directory in place of the history file cannot be removed
	path := s.Path("busy")
	if err := os.MkdirAll(filepath.Join(path, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset("busy"); err == nil {
		t.Error("expected error removing non-empty directory")
	}
}

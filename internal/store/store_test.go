package store

import (
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStartRunAndCurrent(t *testing.T) {
	s := tempDB(t)

	rec, err := s.StartRun("nightly", "10.0.0.2:9000")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if rec.RunID == "" {
		t.Fatal("expected non-empty run ID")
	}
	if rec.Finished() {
		t.Fatal("new run must not be finished")
	}

	cur, err := s.CurrentRun()
	if err != nil {
		t.Fatalf("CurrentRun: %v", err)
	}
	if cur.RunID != rec.RunID {
		t.Fatalf("expected %s, got %s", rec.RunID, cur.RunID)
	}
	if cur.Label != "nightly" || cur.Target != "10.0.0.2:9000" {
		t.Fatalf("unexpected run %+v", cur)
	}
	if !cur.StartedAt.Equal(rec.StartedAt) {
		t.Fatalf("started_at round trip: %v != %v", cur.StartedAt, rec.StartedAt)
	}
}

func TestStartRunMovesActive(t *testing.T) {
	s := tempDB(t)
	s.StartRun("first", "")
	second, _ := s.StartRun("second", "")

	cur, err := s.CurrentRun()
	if err != nil {
		t.Fatalf("CurrentRun: %v", err)
	}
	if cur.RunID != second.RunID {
		t.Fatalf("expected the latest run to be active, got %s", cur.Label)
	}
	if cur.Target != "" {
		t.Fatalf("expected empty target, got %q", cur.Target)
	}
}

func TestCurrentRunEmpty(t *testing.T) {
	s := tempDB(t)
	if _, err := s.CurrentRun(); err == nil {
		t.Fatal("expected error without any run")
	}
}

func TestFinishRun(t *testing.T) {
	s := tempDB(t)
	rec, _ := s.StartRun("r", "")

	if err := s.FinishRun(rec.RunID); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, err := s.GetRun(rec.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !got.Finished() {
		t.Fatal("expected finished run")
	}
	if got.FinishedAt.Before(got.StartedAt) {
		t.Fatalf("finished %v before started %v", got.FinishedAt, got.StartedAt)
	}

	if err := s.FinishRun(rec.RunID); err == nil {
		t.Fatal("expected error finishing twice")
	}
	if err := s.FinishRun("nonexistent"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestListRuns(t *testing.T) {
	s := tempDB(t)
	for _, l := range []string{"a", "b", "c"} {
		if _, err := s.StartRun(l, ""); err != nil {
			t.Fatalf("StartRun %s: %v", l, err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Label != "c" || runs[1].Label != "b" {
		t.Fatalf("expected newest first, got %s, %s", runs[0].Label, runs[1].Label)
	}
}

func TestProductionsRequireRun(t *testing.T) {
	s := tempDB(t)
	_, err := s.DB().Exec(
		`INSERT INTO productions (run_id, outcome, created_at) VALUES ('missing', 'ok', '2026-01-01T00:00:00Z')`,
	)
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("FUZZCTL_DB", "")
	if got := DefaultConfig().Path; got != "fuzzctl.db" {
		t.Errorf("expected fuzzctl.db, got %s", got)
	}
	t.Setenv("FUZZCTL_DB", "/tmp/x.db")
	if got := DefaultConfig().Path; got != "/tmp/x.db" {
		t.Errorf("expected override, got %s", got)
	}
}

package logging

import (
	"database/sql"
	"reflect"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE productions (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id       TEXT NOT NULL,
		data_id      TEXT,
		scenario     TEXT,
		scenario_id  TEXT,
		step         INTEGER,
		initial_type TEXT,
		initial_name TEXT,
		history      BLOB,
		outcome      TEXT NOT NULL,
		reason       TEXT,
		created_at   TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func sampleHistory() []data.MakerStep {
	return []data.MakerStep{
		{Type: "G", Name: "g"},
		{Type: "tTYPE", Name: "walk", UserInput: map[string]any{"max_steps": uint64(4), "label": "x"}},
	}
}

// #endregion helpers

// #region log-production-tests
func TestLogProduction_RoundTrip(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := ProductionEntry{
		RunID:       "r1",
		DataID:      "d1",
		Scenario:    "login",
		ScenarioID:  "sc-1",
		Step:        2,
		InitialType: "G",
		InitialName: "g",
		History:     sampleHistory(),
		Outcome:     "ok",
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogProduction(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := ListProductions(db, "r1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	e := got[0]
	if e.ID == 0 {
		t.Error("expected row id")
	}
	e.ID = 0
	if !e.CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("created_at: got %v, want %v", e.CreatedAt, entry.CreatedAt)
	}
	e.CreatedAt = entry.CreatedAt
	if !reflect.DeepEqual(e, entry) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", e, entry)
	}
}

func TestLogProduction_NullColumns(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	if err := LogProduction(db, ProductionEntry{RunID: "r", Step: -1, Outcome: "config"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var dataID, scenario, reason sql.NullString
	var step sql.NullInt64
	var hist []byte
	var created string
	db.QueryRow("SELECT data_id, scenario, reason, step, history, created_at FROM productions").Scan(
		&dataID, &scenario, &reason, &step, &hist, &created,
	)
	if dataID.Valid || scenario.Valid || reason.Valid {
		t.Error("expected NULL for empty strings")
	}
	if step.Valid {
		t.Error("expected NULL step outside scenarios")
	}
	if hist != nil {
		t.Errorf("expected NULL history, got %x", hist)
	}
	if created == "" {
		t.Error("expected created_at to be stamped")
	}

	got, _ := ListProductions(db, "", 10)
	if len(got) != 1 || got[0].Step != -1 {
		t.Fatalf("expected step -1 on read, got %+v", got)
	}
}

func TestLogProduction_Error(t *testing.T) {
	db := setupDB(t)
	db.Close() // close to force error

	if err := LogProduction(db, ProductionEntry{RunID: "r", Outcome: "ok"}); err == nil {
		t.Fatal("expected error on closed db")
	}
}

func TestListProductions_OrderAndFilter(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	for i, run := range []string{"a", "b", "a", "a"} {
		e := ProductionEntry{RunID: run, DataID: string(rune('0' + i)), Step: -1, Outcome: "ok"}
		if i == 3 {
			e.Outcome = "handover"
		}
		if err := LogProduction(db, e); err != nil {
			t.Fatalf("log %d: %v", i, err)
		}
	}

	got, err := ListProductions(db, "a", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].DataID != "3" || got[1].DataID != "2" {
		t.Fatalf("expected newest first within run a, got %+v", got)
	}

	counts, err := CountOutcomes(db, "a")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["ok"] != 2 || counts["handover"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

// #endregion log-production-tests

// #region codec-tests
func TestEncodeHistory_Canonical(t *testing.T) {
	a, err := EncodeHistory([]data.MakerStep{{Type: "t", Name: "n", UserInput: map[string]any{"b": true, "a": "x"}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, _ := EncodeHistory([]data.MakerStep{{Type: "t", Name: "n", UserInput: map[string]any{"a": "x", "b": true}}})
	if string(a) != string(b) {
		t.Error("expected identical encodings regardless of map order")
	}
	if h, _ := EncodeHistory(nil); h != nil {
		t.Error("expected nil for empty history")
	}
	if _, err := DecodeHistory([]byte{0xff}); err == nil {
		t.Error("expected decode error on garbage")
	}
}

// #endregion codec-tests

// #region sink-tests
func TestSink_Emit(t *testing.T) {
	db := setupDB(t)
	defer db.Close()
	s := NewSink(db, "run")

	first := data.MakerStep{Type: "SC_LOGIN", Name: "login"}
	s.Emit(data.Provenance{
		DataID:  "d",
		Origin:  &data.Origin{Scenario: "login", ScenarioID: "id", Step: 0},
		Initial: &first,
		Outcome: "exhausted",
		Reason:  "final step reached",
	})
	if s.Failures() != 0 {
		t.Fatalf("unexpected failures: %d", s.Failures())
	}

	got, _ := ListProductions(db, "run", 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].Scenario != "login" || got[0].Step != 0 || got[0].InitialType != "SC_LOGIN" {
		t.Errorf("unexpected row %+v", got[0])
	}

	db.Close()
	s.Emit(data.Provenance{Outcome: "ok"})
	if s.Failures() != 1 {
		t.Errorf("expected 1 failure, got %d", s.Failures())
	}
}

// #endregion sink-tests

// #region null-if-empty-tests
func TestNullIfEmpty_Empty(t *testing.T) {
	result := nullIfEmpty("")
	if result != nil {
		t.Errorf("expected nil for empty string, got %v", result)
	}
}

func TestNullIfEmpty_NonEmpty(t *testing.T) {
	result := nullIfEmpty("hello")
	if result != "hello" {
		t.Errorf("expected 'hello', got %v", result)
	}
}

// #endregion null-if-empty-tests

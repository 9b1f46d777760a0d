package logging

import (
	"database/sql"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
)

// #region history-codec
var historyEnc = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// EncodeHistory renders a dmaker history as canonical CBOR. Equal histories encode to equal bytes.
func EncodeHistory(h []data.MakerStep) ([]byte, error) {
	if len(h) == 0 {
		return nil, nil
	}
	return historyEnc.Marshal(h)
}

// DecodeHistory parses bytes written by EncodeHistory.
func DecodeHistory(b []byte) ([]data.MakerStep, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var h []data.MakerStep
	if err := cbor.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return h, nil
}
// #endregion history-codec

// #region log-production
// LogProduction writes one production attempt to the productions table.
func LogProduction(db *sql.DB, entry ProductionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	hist, err := EncodeHistory(entry.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	var step, blob any
	if entry.Step >= 0 {
		step = entry.Step
	}
	if len(hist) > 0 {
		blob = hist
	}

	_, err = db.Exec(
		`INSERT INTO productions (run_id, data_id, scenario, scenario_id, step, initial_type, initial_name, history, outcome, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		nullIfEmpty(entry.DataID),
		nullIfEmpty(entry.Scenario),
		nullIfEmpty(entry.ScenarioID),
		step,
		nullIfEmpty(entry.InitialType),
		nullIfEmpty(entry.InitialName),
		blob,
		entry.Outcome,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log production: %w", err)
	}
	return nil
}
// #endregion log-production

// #region list-productions
// ListProductions returns the most recent productions of runID, newest first.
// An empty runID lists every run.
func ListProductions(db *sql.DB, runID string, limit int) ([]ProductionEntry, error) {
	q := `SELECT id, run_id, data_id, scenario, scenario_id, step, initial_type, initial_name, history, outcome, reason, created_at
		 FROM productions`
	args := []any{}
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list productions: %w", err)
	}
	defer rows.Close()

	var out []ProductionEntry
	for rows.Next() {
		var e ProductionEntry
		var dataID, scenario, scenarioID, initType, initName, reason sql.NullString
		var step sql.NullInt64
		var hist []byte
		var created string
		if err := rows.Scan(&e.ID, &e.RunID, &dataID, &scenario, &scenarioID, &step,
			&initType, &initName, &hist, &e.Outcome, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.DataID = dataID.String
		e.Scenario = scenario.String
		e.ScenarioID = scenarioID.String
		e.Step = -1
		if step.Valid {
			e.Step = int(step.Int64)
		}
		e.InitialType = initType.String
		e.InitialName = initName.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if e.History, err = DecodeHistory(hist); err != nil {
			return nil, fmt.Errorf("production %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountOutcomes tallies the productions of runID per outcome.
func CountOutcomes(db *sql.DB, runID string) (map[string]int, error) {
	rows, err := db.Query(
		`SELECT outcome, COUNT(*) FROM productions WHERE run_id = ? GROUP BY outcome`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[outcome] = n
	}
	return out, rows.Err()
}
// #endregion list-productions

// #region sink
// Sink writes every provenance record it receives to the productions table of one run.
// Write failures are logged and counted, never returned to the emitter.
type Sink struct {
	db       *sql.DB
	runID    string
	failures atomic.Int64
}

// NewSink returns a Sink logging into runID.
func NewSink(db *sql.DB, runID string) *Sink {
	return &Sink{db: db, runID: runID}
}

// Emit implements data.ProvenanceSink.
func (s *Sink) Emit(p data.Provenance) {
	if err := LogProduction(s.db, FromProvenance(s.runID, p)); err != nil {
		s.failures.Add(1)
		log.Printf("[LOGGING] production %s (%s): %v", p.DataID, p.Outcome, err)
	}
}

// Failures returns the number of records that could not be written.
func (s *Sink) Failures() int64 { return s.failures.Load() }

var _ data.ProvenanceSink = (*Sink)(nil)
// #endregion sink

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers

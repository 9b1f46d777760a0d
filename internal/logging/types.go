package logging

import (
	"time"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
)

// #region production-entry
// ProductionEntry is a single row in the productions table.
type ProductionEntry struct {
	ID          int64
	RunID       string
	DataID      string
	Scenario    string
	ScenarioID  string
	Step        int // -1 when the data did not come from a scenario
	InitialType string
	InitialName string
	History     []data.MakerStep
	Outcome     string
	Reason      string
	CreatedAt   time.Time
}

// FromProvenance flattens a provenance record into a row of run runID.
func FromProvenance(runID string, p data.Provenance) ProductionEntry {
	e := ProductionEntry{
		RunID:     runID,
		DataID:    p.DataID,
		Step:      -1,
		History:   p.History,
		Outcome:   p.Outcome,
		Reason:    p.Reason,
		CreatedAt: p.CreatedAt,
	}
	if p.Origin != nil {
		e.Scenario = p.Origin.Scenario
		e.ScenarioID = p.Origin.ScenarioID
		e.Step = p.Origin.Step
	}
	if p.Initial != nil {
		e.InitialType = p.Initial.Type
		e.InitialName = p.Initial.Name
	}
	return e
}
// #endregion production-entry

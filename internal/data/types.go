package data

import "time"

// #region model

// Atom is one materialized value of the data model. Atoms are immutable once
// built: Data clones share them and Bytes must not be written to.
type Atom interface {
	Name() string
	Bytes() []byte
}

// Model is the data-model collaborator: it materializes named atoms.
type Model interface {
	Atom(name string) (Atom, error)
}

// RawAtom is an Atom backed by a plain byte slice.
type RawAtom struct {
	name string
	b    []byte
}

// NewRawAtom copies b into a new RawAtom.
func NewRawAtom(name string, b []byte) *RawAtom {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &RawAtom{name: name, b: cp}
}

func (a *RawAtom) Name() string { return a.name }
func (a *RawAtom) Bytes() []byte { return a.b }

// #endregion model

// #region maker-step

// MakerStep is one provenance entry: which dmaker touched the data and with what input.
type MakerStep struct {
	Type      string         `cbor:"type" yaml:"type"`
	Name      string         `cbor:"name" yaml:"name"`
	UserInput map[string]any `cbor:"user_input,omitempty" yaml:"params,omitempty"`
}

// InfoEntry is a free-text note left by a dmaker or the scenario driver.
type InfoEntry struct {
	Type string
	Name string
	Text string
}

// Origin tags data produced by a scenario.
type Origin struct {
	Scenario   string
	ScenarioID string
	Step       int
}

// #endregion maker-step

// #region provenance

// Provenance is the record emitted for every production attempt.
type Provenance struct {
	DataID    string
	Origin    *Origin
	History   []MakerStep
	Initial   *MakerStep
	Info      []InfoEntry
	Outcome   string // "ok", "handover", "data_invalid", "data_unusable", "config", "unrecoverable", "exhausted"
	Reason    string
	CreatedAt time.Time
}

// ProvenanceSink receives provenance records. Implementations must not block.
type ProvenanceSink interface {
	Emit(p Provenance)
}

// #endregion provenance

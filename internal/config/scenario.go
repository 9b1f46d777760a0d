package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/fuzzctl/internal/chain"
	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/scenario"
)

// #region types

// AtomDoc is one named value of the data model, given as text or hex.
type AtomDoc struct {
	Text string `yaml:"text,omitempty"`
	Hex  string `yaml:"hex,omitempty"`
}

// ItemDoc is one item of a step: a literal, an atom reference or a data process.
// Exactly one field is set.
type ItemDoc struct {
	Text    string      `yaml:"text,omitempty"`
	Hex     string      `yaml:"hex,omitempty"`
	Atom    string      `yaml:"atom,omitempty"`
	Process *ProcessDoc `yaml:"process,omitempty"`
}

// ProcessDoc is a data process: chains tried in order, optionally seeded.
type ProcessDoc struct {
	Chains    [][]chain.Action `yaml:"chains"`
	Seed      *ItemDoc         `yaml:"seed,omitempty"`
	Lazy      bool             `yaml:"lazy,omitempty"`
	AutoRegen bool             `yaml:"auto_regen,omitempty"`
}

// PeriodicDoc asks the pipeline to resend Data every Period once its step is left.
type PeriodicDoc struct {
	ID     string  `yaml:"id"`
	Period string  `yaml:"period"`
	Data   ItemDoc `yaml:"data"`
}

// TransitionDoc leads to the step named To. Transitions are tried in declaration
// order and one without a condition always fires.
type TransitionDoc struct {
	To             string `yaml:"to"`
	Description    string `yaml:"description,omitempty"`
	FbkContains    string `yaml:"fbk_contains,omitempty"`
	FbkStatusBelow *int   `yaml:"fbk_status_below,omitempty"`
	DPCompleted    bool   `yaml:"dp_completed,omitempty"`
}

// StepDoc is one step of a scenario.
type StepDoc struct {
	Name          string          `yaml:"name"`
	Description   string          `yaml:"description,omitempty"`
	Final         bool            `yaml:"final,omitempty"`
	Data          []ItemDoc       `yaml:"data,omitempty"`
	FbkTimeout    string          `yaml:"fbk_timeout,omitempty"`
	FbkMode       string          `yaml:"fbk_mode,omitempty"`
	Periodic      []PeriodicDoc   `yaml:"periodic,omitempty"`
	PeriodicClear []string        `yaml:"periodic_clear,omitempty"`
	Next          []TransitionDoc `yaml:"next,omitempty"`
}

// ScenarioDoc describes a scenario. Its first step is the anchor.
type ScenarioDoc struct {
	Name   string    `yaml:"name"`
	Reinit string    `yaml:"reinit,omitempty"`
	Steps  []StepDoc `yaml:"steps"`
}

// Atoms is a data model backed by the atoms section.
type Atoms map[string][]byte

func (a Atoms) Atom(name string) (data.Atom, error) {
	b, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("unknown atom %q", name)
	}
	return data.NewRawAtom(name, b), nil
}

// #endregion types

// #region build

// Model decodes the atoms section. It is nil when no atom is declared.
func (c Config) Model() (Atoms, error) {
	if len(c.Atoms) == 0 {
		return nil, nil
	}
	out := make(Atoms, len(c.Atoms))
	for name, a := range c.Atoms {
		b, err := literalBytes(a.Text, a.Hex)
		if err != nil {
			return nil, fmt.Errorf("atom %s: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}

// Scenarios builds the scenarios section. Every scenario is checked; the errors are joined.
func (c Config) Scenarios() ([]*scenario.Scenario, error) {
	var (
		out  []*scenario.Scenario
		errs []error
		seen = make(map[string]bool)
	)
	for i, doc := range c.ScenarioDocs {
		if seen[doc.Name] {
			errs = append(errs, fmt.Errorf("scenarios[%d]: duplicate name %q", i, doc.Name))
			continue
		}
		seen[doc.Name] = true
		sc, err := doc.Build()
		if err != nil {
			errs = append(errs, fmt.Errorf("scenarios[%d] %s: %w", i, doc.Name, err))
			continue
		}
		out = append(out, sc)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// Build turns doc into a Scenario. Periodic IDs are prefixed with the scenario name.
func (doc ScenarioDoc) Build() (*scenario.Scenario, error) {
	if len(doc.Steps) == 0 {
		return nil, errors.New("no steps")
	}
	sc := scenario.New(doc.Name)
	steps := make(map[string]*scenario.Step, len(doc.Steps))
	periodicIDs := make(map[string]bool)

	for _, sd := range doc.Steps {
		if _, dup := steps[sd.Name]; dup {
			return nil, fmt.Errorf("duplicate step %q", sd.Name)
		}
		opts, err := doc.stepOptions(sd, periodicIDs)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", sd.Name, err)
		}
		if sd.Final {
			steps[sd.Name] = sc.NewFinalStep(opts...)
		} else {
			steps[sd.Name] = sc.NewStep(opts...)
		}
	}

	for _, sd := range doc.Steps {
		for _, cid := range sd.PeriodicClear {
			if !periodicIDs[doc.periodicID(cid)] {
				return nil, fmt.Errorf("step %s: clears unknown periodic %q", sd.Name, cid)
			}
		}
		from := steps[sd.Name]
		for _, td := range sd.Next {
			to, ok := steps[td.To]
			if !ok {
				return nil, fmt.Errorf("step %s: transition to unknown step %q", sd.Name, td.To)
			}
			from.ConnectTo(to, transitionOptions(td)...)
		}
	}

	if doc.Reinit != "" {
		s, ok := steps[doc.Reinit]
		if !ok {
			return nil, fmt.Errorf("unknown reinit step %q", doc.Reinit)
		}
		sc.SetReinitAnchor(s)
	}
	return sc, nil
}

func (doc ScenarioDoc) periodicID(id string) string { return doc.Name + "." + id }

func (doc ScenarioDoc) stepOptions(sd StepDoc, periodicIDs map[string]bool) ([]scenario.StepOption, error) {
	var opts []scenario.StepOption
	if sd.Description != "" {
		opts = append(opts, scenario.WithDescription(sd.Description))
	}
	if len(sd.Data) > 0 {
		items := make([]scenario.Item, len(sd.Data))
		for i, it := range sd.Data {
			item, err := it.item()
			if err != nil {
				return nil, fmt.Errorf("data[%d]: %w", i, err)
			}
			items[i] = item
		}
		opts = append(opts, scenario.WithData(items...))
	}
	if sd.FbkTimeout != "" {
		to, err := time.ParseDuration(sd.FbkTimeout)
		if err != nil {
			return nil, fmt.Errorf("fbk_timeout: %w", err)
		}
		opts = append(opts, scenario.WithFbkTimeout(to))
	}
	if sd.FbkMode != "" {
		opts = append(opts, scenario.WithFbkMode(sd.FbkMode))
	}
	for _, pd := range sd.Periodic {
		period, err := time.ParseDuration(pd.Period)
		if err != nil {
			return nil, fmt.Errorf("periodic %s: %w", pd.ID, err)
		}
		item, err := pd.Data.item()
		if err != nil {
			return nil, fmt.Errorf("periodic %s: %w", pd.ID, err)
		}
		id := doc.periodicID(pd.ID)
		periodicIDs[id] = true
		opts = append(opts, scenario.WithPeriodic(scenario.Periodic{ID: id, Period: period, Item: item}))
	}
	if len(sd.PeriodicClear) > 0 {
		ids := make([]string, len(sd.PeriodicClear))
		for i, cid := range sd.PeriodicClear {
			ids[i] = doc.periodicID(cid)
		}
		opts = append(opts, scenario.WithPeriodicClear(ids...))
	}
	return opts, nil
}

func (it ItemDoc) item() (scenario.Item, error) {
	set := 0
	for _, on := range []bool{it.Text != "", it.Hex != "", it.Atom != "", it.Process != nil} {
		if on {
			set++
		}
	}
	if set != 1 {
		return scenario.Item{}, fmt.Errorf("item needs exactly one of text, hex, atom or process, got %d", set)
	}
	switch {
	case it.Atom != "":
		return scenario.AtomRef(it.Atom), nil
	case it.Process != nil:
		return it.Process.item()
	}
	b, err := literalBytes(it.Text, it.Hex)
	if err != nil {
		return scenario.Item{}, err
	}
	return scenario.Literal(data.NewRaw("literal", b)), nil
}

func (pd ProcessDoc) item() (scenario.Item, error) {
	if len(pd.Chains) == 0 {
		return scenario.Item{}, errors.New("process without chains")
	}
	var opts []scenario.DPOption
	if pd.Seed != nil {
		if pd.Seed.Process != nil {
			return scenario.Item{}, errors.New("process seed cannot be a process")
		}
		seed, err := pd.Seed.item()
		if err != nil {
			return scenario.Item{}, fmt.Errorf("seed: %w", err)
		}
		opts = append(opts, scenario.WithSeed(seed))
	}
	if pd.Lazy {
		opts = append(opts, scenario.Lazy())
	}
	if pd.AutoRegen {
		opts = append(opts, scenario.AutoRegen())
	}
	return scenario.Process(scenario.NewDataProcess(pd.Chains, opts...)), nil
}

func transitionOptions(td TransitionDoc) []scenario.TransitionOption {
	var opts []scenario.TransitionOption
	if td.Description != "" {
		opts = append(opts, scenario.Describe(td.Description))
	}
	if td.DPCompleted {
		return append(opts, scenario.WhenDataProcessCompleted())
	}
	if td.FbkContains == "" && td.FbkStatusBelow == nil {
		return opts
	}
	contains, below := td.FbkContains, td.FbkStatusBelow
	guard := func(_ *scenario.Env, _ *scenario.Step, fbk *data.Feedback) bool {
		if contains != "" && !fbk.Contains(contains) {
			return false
		}
		if below != nil && (fbk == nil || fbk.WorstStatus() >= *below) {
			return false
		}
		return true
	}
	return append(opts, scenario.GuardAfterFeedback(guard))
}

func literalBytes(text, hexText string) ([]byte, error) {
	switch {
	case text != "" && hexText != "":
		return nil, errors.New("text and hex are exclusive")
	case hexText != "":
		b, err := hex.DecodeString(hexText)
		if err != nil {
			return nil, fmt.Errorf("hex: %w", err)
		}
		return b, nil
	}
	return []byte(text), nil
}

// #endregion build

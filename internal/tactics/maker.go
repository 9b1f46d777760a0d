package tactics

import (
	"github.com/danielpatrickdp/fuzzctl/internal/data"
)

// #region env

// Env is the sending context handed to dmakers.
type Env struct {
	Target      string
	UserContext map[string]any
}

// #endregion env

// #region interfaces

// Maker is the capability set shared by every dmaker kind.
type Maker interface {
	Kind() Kind
	State() *State
	Params() *Params
	// Setup initializes internal state from validated parameter values.
	Setup(dm data.Model, p Values) error
	// Cleanup releases internal state. It must be safe after a failed Setup.
	Cleanup()
	// Clone returns an instance with the same configuration and a fresh state.
	Clone() Maker
}

// Generator produces data from scratch.
type Generator interface {
	Maker
	Generate(dm data.Model, env *Env) (*data.Data, error)
}

// Disruptor transforms its input.
type Disruptor interface {
	Maker
	Disrupt(dm data.Model, env *Env, in *data.Data) (*data.Data, error)
}

// StatefulDisruptor consumes a seed once, then emits one variant per Disrupt call
// and calls State().YieldControl() when exhausted.
type StatefulDisruptor interface {
	Disruptor
	// SetSeed stores in. A non-nil result is used as the output of this invocation.
	SetSeed(dm data.Model, in *data.Data) (*data.Data, error)
}

// #endregion interfaces

// #region base

// Base carries the state and parameters every dmaker embeds.
type Base struct {
	state  *State
	params *Params
}

// NewGeneratorBase returns the base of a generator.
func NewGeneratorBase(schema Schema) Base {
	st, _ := NewState(KindGenerator, false)
	return Base{state: st, params: NewParams(schema)}
}

// NewDisruptorBase returns the base of a plain disruptor, optionally a controller.
func NewDisruptorBase(schema Schema, controller bool) Base {
	st, _ := NewState(KindDisruptor, controller)
	return Base{state: st, params: NewParams(schema)}
}

// NewStatefulBase returns the base of a stateful disruptor. Stateful disruptors always control.
func NewStatefulBase(schema Schema) Base {
	st, _ := NewState(KindStatefulDisruptor, true)
	return Base{state: st, params: NewParams(schema)}
}

func (b *Base) Kind() Kind { return b.state.kind }
func (b *Base) State() *State { return b.state }
func (b *Base) Params() *Params { return b.params }

// Setup is a no-op for makers without internal state.
func (b *Base) Setup(data.Model, Values) error { return nil }

// Cleanup is a no-op for makers without internal state.
func (b *Base) Cleanup() {}

// CloneBase returns a base with a fresh state and an independent copy of the parameters.
func (b *Base) CloneBase() Base {
	return Base{state: b.state.fresh(), params: b.params.Copy()}
}

// #endregion base

// #region lifecycle

// Cleanup runs the maker cleanup, restores default parameters and resets its state.
func Cleanup(m Maker) {
	m.Cleanup()
	m.Params().Restore()
	m.State().Reset()
}

// #endregion lifecycle

package tactics

import "fmt"

// #region kind

// Kind is the variant of a dmaker.
type Kind int

const (
	KindGenerator Kind = iota
	KindDisruptor
	KindStatefulDisruptor
)

func (k Kind) String() string {
	switch k {
	case KindGenerator:
		return "generator"
	case KindDisruptor:
		return "disruptor"
	case KindStatefulDisruptor:
		return "stateful_disruptor"
	}
	return "unknown"
}

// Space returns the registry space the kind is looked up in.
func (k Kind) Space() Space {
	if k == KindGenerator {
		return SpaceGenerator
	}
	return SpaceDisruptor
}

// Space partitions the registry: generators are resolved first in a chain,
// every later action is resolved in the disruptor space.
type Space int

const (
	SpaceGenerator Space = iota
	SpaceDisruptor
)

func (s Space) String() string {
	if s == SpaceGenerator {
		return "generator"
	}
	return "disruptor"
}

// #endregion kind

// #region state

// State is the activation state machine of one dmaker instance.
//
// A controller holds control once it has been invoked successfully ("engaged")
// and until it yields. A stateful disruptor needs a seed after every reset
// and every handover.
type State struct {
	kind          Kind
	active        bool
	controller    bool
	handOver      bool
	engaged       bool
	setupRequired bool
	needSeed      bool
	setupKey      string
}

// NewState returns the initial state for kind. Generators can never be controllers.
func NewState(kind Kind, controller bool) (*State, error) {
	if kind == KindGenerator && controller {
		return nil, fmt.Errorf("%s cannot be a controller", kind)
	}
	s := &State{kind: kind, controller: controller}
	s.Reset()
	return s, nil
}

func (s *State) Kind() Kind { return s.kind }
func (s *State) Active() bool { return s.active }
func (s *State) Controller() bool { return s.controller }
func (s *State) HandOver() bool { return s.handOver }
func (s *State) SetupRequired() bool { return s.setupRequired }
func (s *State) NeedSeed() bool { return s.needSeed }
func (s *State) SetupKey() string { return s.setupKey }
func (s *State) Engaged() bool { return s.engaged }
func (s *State) Activate() { s.active = true }
func (s *State) Deactivate() { s.active = false }
func (s *State) RequireSetup() { s.setupRequired = true }
func (s *State) MarkSetupDone(key string) { s.setupRequired, s.setupKey = false, key }

// InControl reports whether the controller currently suppresses its predecessors.
func (s *State) InControl() bool {
	return s.controller && s.engaged && !s.handOver && !s.setupRequired
}

// TakeControl is called after a successful invocation of a controller.
func (s *State) TakeControl() {
	if s.controller {
		s.engaged = true
	}
}

// YieldControl is called by a controller that is exhausted for its current input.
func (s *State) YieldControl() {
	if s.controller {
		s.handOver = true
	}
}

// Release ends a handover: the controller gives up control and waits for fresh input.
func (s *State) Release() {
	s.handOver = false
	s.engaged = false
	s.ArmSeed()
}

// ArmSeed makes a stateful disruptor wait for a new seed.
func (s *State) ArmSeed() {
	if s.kind == KindStatefulDisruptor {
		s.needSeed = true
	}
}

// ConsumeSeed clears NeedSeed once SetSeed succeeded.
func (s *State) ConsumeSeed() { s.needSeed = false }

// Reset brings the state back to {Active, SetupRequired}; Controller is kept.
func (s *State) Reset() {
	s.active = true
	s.handOver = false
	s.engaged = false
	s.setupRequired = true
	s.setupKey = ""
	s.needSeed = s.kind == KindStatefulDisruptor
}

// fresh returns a reset copy keeping kind and controller.
func (s *State) fresh() *State {
	c := &State{kind: s.kind, controller: s.controller}
	c.Reset()
	return c
}

// #endregion state

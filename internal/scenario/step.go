package scenario

import (
	"time"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
)

// #region types

// StepID addresses a Step in its Scenario arena.
type StepID int

// NoStep is the zero value of an unset anchor.
const NoStep StepID = -1

// Hook runs a side effect at a defined point of a Step visit.
type Hook func(env *Env, s *Step)

// SendHook runs right before the data of a Step is sent.
type SendHook func(env *Env, s *Step, d *data.Data)

// Step is one node of a Scenario graph.
type Step struct {
	id    StepID
	sc    *Scenario
	desc  string
	items []Item
	final bool

	blocked    bool
	timeout    time.Duration
	hasTimeout bool
	fbkMode    string

	periodic      []Periodic
	periodicClear []string
	tasks         []Task
	taskStop      []string

	preHook  Hook
	sendHook SendHook

	transitions []*Transition

	// per-visit evaluation state
	selected int
	rejected map[int]bool
}

// StepOption configures a Step.
type StepOption func(*Step)

// #endregion types

// #region options

// WithData sets the data descriptors of the Step.
func WithData(items ...Item) StepOption {
	return func(s *Step) { s.items = append(s.items, items...) }
}

// WithDescription sets the text attached to produced data.
func WithDescription(desc string) StepOption {
	return func(s *Step) { s.desc = desc }
}

// WithFbkTimeout sets the feedback timeout requested at before_sending_step2.
func WithFbkTimeout(d time.Duration) StepOption {
	return func(s *Step) { s.timeout, s.hasTimeout = d, true }
}

// WithFbkMode sets the feedback mode requested at before_sending_step2.
func WithFbkMode(mode string) StepOption {
	return func(s *Step) { s.fbkMode = mode }
}

// WithPeriodic starts periodic sends after feedback.
func WithPeriodic(p ...Periodic) StepOption {
	return func(s *Step) { s.periodic = append(s.periodic, p...) }
}

// WithPeriodicClear stops periodic sends by ID after feedback.
func WithPeriodicClear(ids ...string) StepOption {
	return func(s *Step) { s.periodicClear = append(s.periodicClear, ids...) }
}

// WithTask starts background tasks after feedback.
func WithTask(t ...Task) StepOption {
	return func(s *Step) { s.tasks = append(s.tasks, t...) }
}

// WithTaskStop stops background tasks by ID after feedback.
func WithTaskStop(ids ...string) StepOption {
	return func(s *Step) { s.taskStop = append(s.taskStop, ids...) }
}

// WithPreHook runs h before the Step data is processed.
func WithPreHook(h Hook) StepOption {
	return func(s *Step) { s.preHook = h }
}

// WithSendHook runs h at before_sending_step2.
func WithSendHook(h SendHook) StepOption {
	return func(s *Step) { s.sendHook = h }
}

// Blocked creates the Step blocked: it produces blocked data until unblocked.
func Blocked() StepOption {
	return func(s *Step) { s.blocked = true }
}

// #endregion options

// #region accessors

func (s *Step) ID() StepID { return s.id }
func (s *Step) Scenario() *Scenario { return s.sc }
func (s *Step) Description() string { return s.desc }
func (s *Step) Items() []Item { return s.items }
func (s *Step) IsFinal() bool { return s.final }
func (s *Step) IsBlocked() bool { return s.blocked }
func (s *Step) FbkMode() string { return s.fbkMode }
func (s *Step) Periodic() []Periodic { return s.periodic }
func (s *Step) PeriodicClear() []string { return s.periodicClear }
func (s *Step) Tasks() []Task { return s.tasks }
func (s *Step) TaskStop() []string { return s.taskStop }
func (s *Step) Transitions() []*Transition { return s.transitions }
func (s *Step) SetBlocked(v bool) { s.blocked = v }
func (s *Step) MakeFinal() { s.final = true }
func (s *Step) SetDescription(desc string) { s.desc = desc }

// FbkTimeout returns the feedback timeout, ok is false when none is set.
func (s *Step) FbkTimeout() (time.Duration, bool) { return s.timeout, s.hasTimeout }

// SetFbkTimeout overrides the feedback timeout.
func (s *Step) SetFbkTimeout(d time.Duration) { s.timeout, s.hasTimeout = d, true }

// SetItems replaces the data descriptors.
func (s *Step) SetItems(items ...Item) { s.items = items }

// HasData reports whether the Step produces data.
func (s *Step) HasData() bool { return !s.final && len(s.items) > 0 }

// DataProcesses returns the DataProcess items of the Step.
func (s *Step) DataProcesses() []*DataProcess {
	var out []*DataProcess
	for _, it := range s.items {
		if it.Process != nil {
			out = append(out, it.Process)
		}
	}
	return out
}

// DataProcessCompleted reports whether the Step has DataProcesses and all of them completed.
func (s *Step) DataProcessCompleted() bool {
	dps := s.DataProcesses()
	if len(dps) == 0 {
		return false
	}
	for _, dp := range dps {
		if !dp.Completed() {
			return false
		}
	}
	return true
}

// HasGuards reports whether any transition of the Step carries a guard.
func (s *Step) HasGuards() bool {
	for _, t := range s.transitions {
		if t.guard != nil {
			return true
		}
	}
	return false
}

// RunPreHook runs the pre-processing hook, if any.
func (s *Step) RunPreHook() {
	if s.preHook != nil {
		s.preHook(s.sc.env, s)
	}
}

// RunSendHook runs the pre-sending hook, if any.
func (s *Step) RunSendHook(d *data.Data) {
	if s.sendHook != nil {
		s.sendHook(s.sc.env, s, d)
	}
}

// #endregion accessors

// #region connect

// ConnectTo adds a transition from s to target. Both Steps must belong to the same Scenario.
func (s *Step) ConnectTo(target *Step, opts ...TransitionOption) *Transition {
	if target.sc != s.sc {
		panic("scenario: ConnectTo across scenarios, use ConnectToScenario")
	}
	t := &Transition{to: target.id, crossable: true}
	for _, o := range opts {
		o(t)
	}
	s.insert(t)
	s.sc.invalidate()
	return t
}

// ConnectToScenario copies every Step reachable from sub into the Scenario of s
// and connects s to the copy of sub's anchor. It returns the new transition.
func (s *Step) ConnectToScenario(sub *Scenario, opts ...TransitionOption) *Transition {
	ids := sub.copyInto(s.sc, sub.anchor)
	return s.ConnectTo(s.sc.steps[ids[sub.anchor]], opts...)
}

// insert keeps dp_completed transitions ahead of the others.
func (s *Step) insert(t *Transition) {
	pos := len(s.transitions)
	if t.dpCompleted || t.first {
		pos = 0
		if !t.dpCompleted {
			for pos < len(s.transitions) && s.transitions[pos].dpCompleted {
				pos++
			}
		}
	}
	s.transitions = append(s.transitions, nil)
	copy(s.transitions[pos+1:], s.transitions[pos:])
	s.transitions[pos] = t
}

// #endregion connect

// #region evaluate

// BeginVisit clears the per-visit evaluation state.
func (s *Step) BeginVisit() {
	s.selected = -1
	s.rejected = nil
}

// Evaluate runs one hook pass over the transitions and reports whether a
// transition has been selected. The first firing transition wins; later hook
// passes of the same visit keep it. A guarded transition bound to a hook that
// has not run yet stops the scan so transitions declared after it cannot
// overtake it.
func (s *Step) Evaluate(hook data.Hook, fbk *data.Feedback) bool {
	if s.selected >= 0 {
		return true
	}
	for i, t := range s.transitions {
		if !t.crossable || s.rejected[i] {
			continue
		}
		if t.dpCompleted {
			if s.DataProcessCompleted() {
				s.selected = i
				return true
			}
			continue
		}
		if t.guard == nil {
			s.selected = i
			return true
		}
		switch {
		case t.hook == hook:
			if t.guard(s.sc.env, s, fbk) != t.inverted {
				s.selected = i
				return true
			}
			if s.rejected == nil {
				s.rejected = make(map[int]bool)
			}
			s.rejected[i] = true
		case t.hook > hook:
			return false
		}
	}
	return false
}

// EvaluateDPCompleted only considers dp_completed transitions. Used when a Step
// produced no data so that no guard ever runs.
func (s *Step) EvaluateDPCompleted() bool {
	if s.selected >= 0 {
		return true
	}
	for i, t := range s.transitions {
		if !t.dpCompleted {
			break
		}
		if t.crossable && s.DataProcessCompleted() {
			s.selected = i
			return true
		}
	}
	return false
}

// Selected returns the transition chosen during the current visit, nil if none.
func (s *Step) Selected() *Transition {
	if s.selected < 0 || s.selected >= len(s.transitions) {
		return nil
	}
	return s.transitions[s.selected]
}

// leave drops per-visit state and cached seeds.
func (s *Step) leave() {
	s.BeginVisit()
	for _, dp := range s.DataProcesses() {
		dp.Outdate()
	}
}

// #endregion evaluate

// #region copy

func (s *Step) copyTo(sc *Scenario) *Step {
	c := &Step{
		sc:            sc,
		desc:          s.desc,
		final:         s.final,
		blocked:       s.blocked,
		timeout:       s.timeout,
		hasTimeout:    s.hasTimeout,
		fbkMode:       s.fbkMode,
		periodic:      append([]Periodic(nil), s.periodic...),
		periodicClear: append([]string(nil), s.periodicClear...),
		tasks:         append([]Task(nil), s.tasks...),
		taskStop:      append([]string(nil), s.taskStop...),
		preHook:       s.preHook,
		sendHook:      s.sendHook,
		selected:      -1,
	}
	for _, it := range s.items {
		c.items = append(c.items, it.clone())
	}
	return c
}

// #endregion copy

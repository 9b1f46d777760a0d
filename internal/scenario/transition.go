package scenario

import (
	"github.com/danielpatrickdp/fuzzctl/internal/data"
)

// #region types

// Guard decides whether a transition fires. fbk is nil before feedback is collected.
type Guard func(env *Env, cur *Step, fbk *data.Feedback) bool

// Transition is a directed edge to a Step of the same arena.
type Transition struct {
	to          StepID
	guard       Guard
	hook        data.Hook
	dpCompleted bool
	crossable   bool
	inverted    bool
	first       bool
	description string
}

// TransitionOption configures a Transition.
type TransitionOption func(*Transition)

// #endregion types

// #region options

// GuardBeforeSending binds g to the before_sending_step2 hook.
func GuardBeforeSending(g Guard) TransitionOption {
	return func(t *Transition) { t.guard, t.hook = g, data.HookBeforeSendingStep2 }
}

// GuardAfterSending binds g to the after_sending hook.
func GuardAfterSending(g Guard) TransitionOption {
	return func(t *Transition) { t.guard, t.hook = g, data.HookAfterSending }
}

// GuardAfterFeedback binds g to the after_fbk hook.
func GuardAfterFeedback(g Guard) TransitionOption {
	return func(t *Transition) { t.guard, t.hook = g, data.HookAfterFeedback }
}

// WhenDataProcessCompleted fires once every DataProcess of the source Step has completed.
// Such a transition is always evaluated first.
func WhenDataProcessCompleted() TransitionOption {
	return func(t *Transition) { t.dpCompleted = true }
}

// First inserts the transition ahead of the existing ones, after any dp_completed transition.
func First() TransitionOption {
	return func(t *Transition) { t.first = true }
}

// Describe sets a free-text description.
func Describe(s string) TransitionOption {
	return func(t *Transition) { t.description = s }
}

// Uncrossable creates the transition disabled.
func Uncrossable() TransitionOption {
	return func(t *Transition) { t.crossable = false }
}

// #endregion options

// #region accessors

func (t *Transition) To() StepID { return t.to }
func (t *Transition) Hook() data.Hook { return t.hook }
func (t *Transition) Guarded() bool { return t.guard != nil }
func (t *Transition) DPCompleted() bool { return t.dpCompleted }
func (t *Transition) Crossable() bool { return t.crossable }
func (t *Transition) Inverted() bool { return t.inverted }
func (t *Transition) Description() string { return t.description }

// SetCrossable enables or disables the transition.
func (t *Transition) SetCrossable(v bool) { t.crossable = v }

// Invert negates the guard outcome. Unguarded transitions are not affected.
func (t *Transition) Invert() {
	if t.guard != nil {
		t.inverted = !t.inverted
	}
}

// #endregion accessors

// #region copy

func (t *Transition) copyTo(to StepID) *Transition {
	c := *t
	c.to = to
	return &c
}

// #endregion copy

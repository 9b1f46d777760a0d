// Package scenario models multi-step conversations with a target as a graph of
// Steps connected by guarded Transitions.
//
// Steps live in an arena owned by their Scenario; Transitions reference their
// target by StepID, so cycles need no back pointers and Clone is an index remap.
package scenario

import (
	"fmt"
	"log"

	"github.com/google/uuid"
)

// #region types

// Scenario is a named, traversable Step graph with a cursor.
type Scenario struct {
	name    string
	id      string
	env     *Env
	steps   []*Step
	anchor  StepID
	reinit  StepID
	current StepID

	reach       []StepID
	reachTrans  []*Transition
	cacheValid  bool
	periodicIDs map[string]struct{}
	taskIDs     map[string]struct{}
}

// #endregion types

// #region constructor

// New returns an empty Scenario. The first Step created becomes the anchor.
func New(name string) *Scenario {
	return &Scenario{
		name:        name,
		id:          uuid.New().String(),
		env:         &Env{UserContext: map[string]any{}},
		anchor:      NoStep,
		reinit:      NoStep,
		current:     NoStep,
		periodicIDs: make(map[string]struct{}),
		taskIDs:     make(map[string]struct{}),
	}
}

// NewStep adds a Step to the arena.
func (sc *Scenario) NewStep(opts ...StepOption) *Step {
	s := &Step{sc: sc, selected: -1}
	for _, o := range opts {
		o(s)
	}
	sc.add(s)
	return s
}

// NewFinalStep adds a terminal Step.
func (sc *Scenario) NewFinalStep(opts ...StepOption) *Step {
	s := sc.NewStep(opts...)
	s.final = true
	return s
}

// NewNoDataStep adds a Step that produces no data. It only runs hooks and transitions.
func (sc *Scenario) NewNoDataStep(opts ...StepOption) *Step {
	s := sc.NewStep(opts...)
	s.items = nil
	return s
}

func (sc *Scenario) add(s *Step) {
	s.id = StepID(len(sc.steps))
	sc.steps = append(sc.steps, s)
	for _, p := range s.periodic {
		sc.periodicIDs[p.ID] = struct{}{}
	}
	for _, t := range s.tasks {
		sc.taskIDs[t.ID] = struct{}{}
	}
	if sc.anchor == NoStep {
		sc.anchor = s.id
		sc.current = s.id
	}
	sc.invalidate()
}

// #endregion constructor

// #region accessors

func (sc *Scenario) Name() string { return sc.name }
func (sc *Scenario) ID() string { return sc.id }
func (sc *Scenario) Env() *Env { return sc.env }

// Step returns the Step at id, nil when out of range.
func (sc *Scenario) Step(id StepID) *Step {
	if id < 0 || int(id) >= len(sc.steps) {
		return nil
	}
	return sc.steps[id]
}

// Anchor returns the initial Step.
func (sc *Scenario) Anchor() *Step { return sc.Step(sc.anchor) }

// ReinitAnchor returns the reinitialization Step, nil when none is set.
func (sc *Scenario) ReinitAnchor() *Step { return sc.Step(sc.reinit) }

// Current returns the Step under the cursor.
func (sc *Scenario) Current() *Step { return sc.Step(sc.current) }

// SetAnchor changes the initial Step and moves the cursor onto it.
func (sc *Scenario) SetAnchor(s *Step) {
	sc.mustOwn(s)
	sc.anchor = s.id
	sc.current = s.id
	sc.invalidate()
}

// SetReinitAnchor sets the Step entered by branch-to-reinit edges.
func (sc *Scenario) SetReinitAnchor(s *Step) {
	sc.mustOwn(s)
	sc.reinit = s.id
	sc.invalidate()
}

// PeriodicIDs returns the identifiers of every periodic spec of the Scenario.
func (sc *Scenario) PeriodicIDs() []string { return keys(sc.periodicIDs) }

// TaskIDs returns the identifiers of every task spec of the Scenario.
func (sc *Scenario) TaskIDs() []string { return keys(sc.taskIDs) }

func (sc *Scenario) mustOwn(s *Step) {
	if s.sc != sc {
		panic(fmt.Sprintf("scenario %s: step %d belongs to another scenario", sc.name, s.id))
	}
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// #endregion accessors

// #region reachability

func (sc *Scenario) invalidate() { sc.cacheValid = false }

// Steps returns every Step reachable from the anchor and the reinit anchor, in BFS order.
func (sc *Scenario) Steps() []*Step {
	sc.refresh()
	out := make([]*Step, len(sc.reach))
	for i, id := range sc.reach {
		out[i] = sc.steps[id]
	}
	return out
}

// Transitions returns the transitions of every reachable Step.
func (sc *Scenario) Transitions() []*Transition {
	sc.refresh()
	return append([]*Transition(nil), sc.reachTrans...)
}

func (sc *Scenario) refresh() {
	if sc.cacheValid {
		return
	}
	sc.reach = sc.bfs(sc.roots()...)
	sc.reachTrans = sc.reachTrans[:0]
	for _, id := range sc.reach {
		sc.reachTrans = append(sc.reachTrans, sc.steps[id].transitions...)
	}
	sc.cacheValid = true
}

func (sc *Scenario) roots() []StepID {
	var roots []StepID
	if sc.anchor != NoStep {
		roots = append(roots, sc.anchor)
	}
	if sc.reinit != NoStep {
		roots = append(roots, sc.reinit)
	}
	return roots
}

func (sc *Scenario) bfs(roots ...StepID) []StepID {
	visited := make(map[StepID]bool, len(sc.steps))
	var order []StepID
	for _, r := range roots {
		if visited[r] {
			continue
		}
		visited[r] = true
		order = append(order, r)
		queue := []StepID{r}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, t := range sc.steps[cur].transitions {
				if visited[t.to] {
					continue
				}
				visited[t.to] = true
				order = append(order, t.to)
				queue = append(queue, t.to)
			}
		}
	}
	return order
}

// #endregion reachability

// #region cursor

// Reset moves the cursor back to the anchor.
func (sc *Scenario) Reset() {
	if cur := sc.Current(); cur != nil {
		cur.leave()
	}
	sc.current = sc.anchor
	if a := sc.Anchor(); a != nil {
		a.BeginVisit()
	}
}

// WalkTo moves the cursor to id, leaving the current Step.
func (sc *Scenario) WalkTo(id StepID) error {
	next := sc.Step(id)
	if next == nil {
		return fmt.Errorf("scenario %s: no step %d", sc.name, id)
	}
	if cur := sc.Current(); cur != nil {
		cur.leave()
	}
	log.Printf("[SCENARIO] %s: step %d -> %d", sc.name, sc.current, id)
	sc.current = id
	next.BeginVisit()
	return nil
}

// AtAnchor reports whether the cursor is on the anchor.
func (sc *Scenario) AtAnchor() bool { return sc.current == sc.anchor }

// #endregion cursor

// #region clone

// Clone deep-copies every Step reachable from the anchor and the reinit anchor.
// A Step reachable through several paths is copied once. Periodic and task
// identifiers are kept, so stop requests issued by the copy cancel what the
// original started.
func (sc *Scenario) Clone() *Scenario {
	c := New(sc.name)
	c.env = sc.env.clone()
	ids := sc.copyInto(c, sc.roots()...)
	if sc.anchor != NoStep {
		c.anchor = ids[sc.anchor]
		c.current = c.anchor
	}
	if sc.reinit != NoStep {
		c.reinit = ids[sc.reinit]
	}
	c.invalidate()
	return c
}

// copyInto copies the Steps reachable from roots into dst and returns the old to new id map.
func (sc *Scenario) copyInto(dst *Scenario, roots ...StepID) map[StepID]StepID {
	order := sc.bfs(roots...)
	ids := make(map[StepID]StepID, len(order))
	anchorSet := dst.anchor != NoStep
	for _, old := range order {
		s := sc.steps[old].copyTo(dst)
		s.id = StepID(len(dst.steps))
		dst.steps = append(dst.steps, s)
		ids[old] = s.id
		for _, p := range s.periodic {
			dst.periodicIDs[p.ID] = struct{}{}
		}
		for _, t := range s.tasks {
			dst.taskIDs[t.ID] = struct{}{}
		}
	}
	for _, old := range order {
		src := sc.steps[old]
		cp := dst.steps[ids[old]]
		for _, t := range src.transitions {
			cp.transitions = append(cp.transitions, t.copyTo(ids[t.to]))
		}
	}
	if !anchorSet && len(order) > 0 {
		dst.anchor = ids[order[0]]
		dst.current = dst.anchor
	}
	dst.invalidate()
	return ids
}

// #endregion clone

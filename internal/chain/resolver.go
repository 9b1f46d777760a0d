package chain

import (
	"fmt"
	"log"
	"time"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/disruptors"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region types

// Action references one dmaker of a chain request. An empty Name asks for a weighted pick.
type Action struct {
	Type      string         `yaml:"type"`
	Name      string         `yaml:"name,omitempty"`
	UserInput tactics.Values `yaml:"params,omitempty"`
}

// Resolver realizes chain requests against a data-model specific registry and a
// registry of generic dmakers.
type Resolver struct {
	tactics *tactics.Registry
	generic *tactics.Registry
	dm      data.Model
	env     *tactics.Env
	sink    data.ProvenanceSink
	atoms   map[string]tactics.Maker
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithGeneric sets the fallback registry of generic dmakers.
func WithGeneric(reg *tactics.Registry) Option {
	return func(r *Resolver) { r.generic = reg }
}

// WithEnv sets the sending context handed to dmakers.
func WithEnv(env *tactics.Env) Option {
	return func(r *Resolver) { r.env = env }
}

// WithSink emits one provenance record per resolution.
func WithSink(s data.ProvenanceSink) Option {
	return func(r *Resolver) { r.sink = s }
}

type link struct {
	act   Action
	space tactics.Space
	name  string
	m     tactics.Maker
}

func (l *link) step() data.MakerStep {
	return data.MakerStep{Type: l.act.Type, Name: l.name, UserInput: l.act.UserInput}
}

// #endregion types

// #region constructor

// NewResolver returns a resolver over reg. dm may be nil when no dmaker needs a data model.
func NewResolver(reg *tactics.Registry, dm data.Model, opts ...Option) *Resolver {
	r := &Resolver{
		tactics: reg,
		dm:      dm,
		env:     &tactics.Env{},
		atoms:   make(map[string]tactics.Maker),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resolver) Tactics() *tactics.Registry { return r.tactics }
func (r *Resolver) Generic() *tactics.Registry { return r.generic }
func (r *Resolver) Model() data.Model { return r.dm }

// #endregion constructor

// #region resolve

// Resolve runs actions and returns the produced data. With a seed every action is
// looked up in the disruptor space and the history starts from the seed's.
//
// Failures are *OutcomeError values: HandOver, DataInvalid and DataUnusable are
// expected yields (see IsYield); Config and Unrecoverable abort the attempt only.
func (r *Resolver) Resolve(actions []Action, seed *data.Data) (*data.Data, error) {
	links, err := r.resolveLinks(actions, seed != nil)
	if err != nil {
		r.emit(nil, nil, err)
		return nil, err
	}

	// Deactivation by a controller in control lasts for this call only.
	for _, l := range r.deactivateBehindController(links) {
		defer l.m.State().Activate()
	}

	var (
		cur     = seed
		history []data.MakerStep
		initial *data.MakerStep
		notes   []data.InfoEntry
	)
	if seed != nil {
		history = seed.History()
	}

	for i, l := range links {
		st := l.m.State()
		if !st.Active() {
			notes = append(notes, data.InfoEntry{Type: l.act.Type, Name: l.name, Text: "inactive, skipped"})
			continue
		}
		if err := r.ensureSetup(l); err != nil {
			r.emit(cur, history, err)
			return nil, err
		}

		res, err := r.invoke(l, cur)
		if err != nil {
			log.Printf("[CHAIN] %s/%s failed (input %v): %v", l.act.Type, l.name, l.act.UserInput, err)
			oe := outcome(ErrUnrecoverable, l.act.Type, l.name, err)
			r.emit(cur, history, oe)
			return nil, oe
		}

		if st.HandOver() {
			reactivated := r.reactivate(links, i)
			st.Release()
			log.Printf("[CHAIN] %s/%s handed over, reactivated %v", l.act.Type, l.name, reactivated)
			oe := outcome(ErrHandOver, l.act.Type, l.name, nil)
			oe.Reactivated = reactivated
			r.emit(cur, history, oe)
			return nil, oe
		}
		if res == nil {
			oe := outcome(ErrDataInvalid, l.act.Type, l.name, nil)
			r.emit(cur, history, oe)
			return nil, oe
		}
		if res.IsUnusable() {
			oe := outcome(ErrDataUnusable, l.act.Type, l.name, nil)
			r.emit(res, history, oe)
			return nil, oe
		}

		st.TakeControl()
		step := l.step()
		history = append(history, step)
		if l.space == tactics.SpaceGenerator {
			initial = &step
		}
		if st.SetupRequired() {
			tactics.Cleanup(l.m)
		}
		cur = res
	}

	if cur == nil {
		oe := outcome(ErrDataInvalid, "", "", fmt.Errorf("no active dmaker produced data"))
		r.emit(nil, history, oe)
		return nil, oe
	}
	if cur == seed {
		cur = seed.Clone()
	}
	cur.SetHistory(history)
	if initial != nil {
		cur.SetInitialMaker(*initial)
	} else if seed != nil {
		if s, ok := seed.InitialMaker(); ok {
			cur.SetInitialMaker(s)
		}
	}
	for _, n := range notes {
		cur.AddInfo(n.Type, n.Name, n.Text)
	}
	r.emit(cur, history, nil)
	return cur, nil
}

// #endregion resolve

// #region lookup

func (r *Resolver) resolveLinks(actions []Action, seeded bool) ([]*link, error) {
	if len(actions) == 0 {
		return nil, outcome(ErrConfig, "", "", fmt.Errorf("empty chain"))
	}
	space := tactics.SpaceGenerator
	if seeded {
		space = tactics.SpaceDisruptor
	}

	links := make([]*link, 0, len(actions))
	controllers := make(map[tactics.Maker]bool)
	for _, act := range actions {
		m, name, err := r.lookup(space, act)
		if err != nil {
			return nil, outcome(ErrConfig, act.Type, act.Name, err)
		}
		if m.State().Controller() {
			if controllers[m] {
				return nil, outcome(ErrConfig, act.Type, name, fmt.Errorf("controller used twice in one chain"))
			}
			controllers[m] = true
		}
		links = append(links, &link{act: act, space: space, name: name, m: m})
		space = tactics.SpaceDisruptor
	}
	return links, nil
}

func (r *Resolver) lookup(space tactics.Space, act Action) (tactics.Maker, string, error) {
	for _, reg := range r.registries() {
		if reg.Has(space, act.Type) {
			return r.pick(reg, space, act)
		}
	}
	if base, ok := tactics.SplitCloneType(act.Type); ok {
		for _, reg := range r.registries() {
			if !reg.Has(space, base) {
				continue
			}
			if _, _, err := reg.Clone(space, base, act.Type, act.Name); err != nil {
				return nil, "", err
			}
			return r.pick(reg, space, act)
		}
	}
	if space == tactics.SpaceGenerator && r.dm != nil {
		if _, err := r.dm.Atom(act.Type); err == nil {
			return r.atomGenerator(act.Type), act.Type, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s %q", tactics.ErrUnknownType, space, act.Type)
}

func (r *Resolver) registries() []*tactics.Registry {
	out := make([]*tactics.Registry, 0, 2)
	if r.tactics != nil {
		out = append(out, r.tactics)
	}
	if r.generic != nil {
		out = append(out, r.generic)
	}
	return out
}

func (r *Resolver) pick(reg *tactics.Registry, space tactics.Space, act Action) (tactics.Maker, string, error) {
	var (
		m    tactics.Maker
		name = act.Name
		err  error
	)
	if name != "" {
		m, err = reg.Get(space, act.Type, name)
	} else {
		m, name, err = reg.PickRandom(space, act.Type, true)
		if err != nil {
			m, name, err = reg.PickRandom(space, act.Type, false)
		}
	}
	if err != nil {
		return nil, "", err
	}
	if err := checkKind(m); err != nil {
		return nil, "", err
	}
	return m, name, nil
}

func (r *Resolver) atomGenerator(name string) tactics.Maker {
	if g, ok := r.atoms[name]; ok {
		return g
	}
	g := disruptors.NewAtom(name)
	r.atoms[name] = g
	return g
}

func checkKind(m tactics.Maker) error {
	var ok bool
	switch m.Kind() {
	case tactics.KindGenerator:
		_, ok = m.(tactics.Generator)
	case tactics.KindDisruptor:
		_, ok = m.(tactics.Disruptor)
	case tactics.KindStatefulDisruptor:
		_, ok = m.(tactics.StatefulDisruptor)
	}
	if !ok {
		return fmt.Errorf("%T does not implement %s", m, m.Kind())
	}
	return nil
}

// #endregion lookup

// #region activation

// deactivateBehindController deactivates every link before the last controller
// in control and returns the links it changed.
func (r *Resolver) deactivateBehindController(links []*link) []*link {
	ctl := -1
	for i := len(links) - 1; i >= 0; i-- {
		if links[i].m.State().InControl() {
			ctl = i
			break
		}
	}
	var changed []*link
	for _, l := range links[:max(ctl, 0)] {
		if l.m.State().Active() {
			l.m.State().Deactivate()
			changed = append(changed, l)
		}
	}
	return changed
}

// reactivate walks back from the yielding link and reactivates every link up to
// and including the previous controller still in control. Controllers in
// handover are crossed.
func (r *Resolver) reactivate(links []*link, from int) []string {
	var names []string
	for j := from; j >= 0; j-- {
		st := links[j].m.State()
		st.Activate()
		names = append(names, links[j].act.Type+"/"+links[j].name)
		if j < from && st.InControl() {
			break
		}
	}
	return names
}

// #endregion activation

// #region lifecycle

// ensureSetup runs Setup when the maker requires it or the user input changed
// since the last setup. A failure cleans the maker up and restores its defaults.
func (r *Resolver) ensureSetup(l *link) error {
	st := l.m.State()
	key := tactics.InputKey(l.act.UserInput)
	if !st.SetupRequired() && st.SetupKey() == key {
		return nil
	}
	if !st.SetupRequired() {
		tactics.Cleanup(l.m)
	}

	vals, err := l.m.Params().Apply(l.act.UserInput)
	if err == nil {
		err = guard(func() error { return l.m.Setup(r.dm, vals) })
	}
	if err != nil {
		log.Printf("[CHAIN] setup %s/%s failed (input %v): %v", l.act.Type, l.name, l.act.UserInput, err)
		tactics.Cleanup(l.m)
		return outcome(ErrUnrecoverable, l.act.Type, l.name, err)
	}
	st.MarkSetupDone(key)
	return nil
}

func (r *Resolver) invoke(l *link, in *data.Data) (out *data.Data, err error) {
	err = guard(func() error {
		var ierr error
		out, ierr = r.call(l, in)
		return ierr
	})
	return out, err
}

func (r *Resolver) call(l *link, in *data.Data) (*data.Data, error) {
	st := l.m.State()
	switch l.m.Kind() {
	case tactics.KindGenerator:
		return l.m.(tactics.Generator).Generate(r.dm, r.env)
	case tactics.KindStatefulDisruptor:
		sd := l.m.(tactics.StatefulDisruptor)
		if st.NeedSeed() {
			if in == nil {
				return nil, nil
			}
			out, err := sd.SetSeed(r.dm, in)
			if err != nil {
				return nil, err
			}
			st.ConsumeSeed()
			if out != nil {
				return out, nil
			}
		}
		return sd.Disrupt(r.dm, r.env, in)
	default:
		if in == nil && !st.Controller() {
			return nil, nil
		}
		return l.m.(tactics.Disruptor).Disrupt(r.dm, r.env, in)
	}
}

// guard turns a panic in dmaker code into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

// #endregion lifecycle

// #region provenance

func (r *Resolver) emit(d *data.Data, history []data.MakerStep, err error) {
	if r.sink == nil {
		return
	}
	var p data.Provenance
	if d != nil {
		p = d.Provenance(Label(err), "")
	} else {
		p = data.Provenance{Outcome: Label(err)}
	}
	if err != nil {
		p.DataID = ""
		p.History = append([]data.MakerStep(nil), history...)
		p.Reason = err.Error()
	}
	p.CreatedAt = time.Now().UTC()
	r.sink.Emit(p)
}

// #endregion provenance

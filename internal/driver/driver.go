// Package driver turns a Scenario into a Generator: every production pulls the
// data of the current Step and advances the graph through data callbacks.
package driver

import (
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/fuzzctl/internal/chain"
	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/scenario"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region types

// Driver is a Generator walking one working copy of a base Scenario.
type Driver struct {
	tactics.Base
	base     *scenario.Scenario
	resolver *chain.Resolver
	opts     Options
	sink     data.ProvenanceSink
	id       string

	sc            *scenario.Scenario
	altIdx        int
	altered       scenario.StepID
	alteredDP     *scenario.DataProcess
	visited       bool
	stepExhausted bool
	exhausted     bool
	stutterCount  int
	cloneTypes    []string
	seq           int
}

// Option configures a Driver.
type Option func(*Driver)

// WithOptions sets the alteration options.
func WithOptions(o Options) Option {
	return func(d *Driver) { d.opts = o }
}

// WithSink emits a provenance record when the scenario is exhausted.
func WithSink(s data.ProvenanceSink) Option {
	return func(d *Driver) { d.sink = s }
}

// #endregion types

// #region constructor

// New returns a Driver over base. Chain requests of its Steps are resolved by r.
func New(base *scenario.Scenario, r *chain.Resolver, opts ...Option) *Driver {
	d := &Driver{base: base, resolver: r, opts: DefaultOptions(), id: newDriverID(), altered: scenario.NoStep}
	for _, o := range opts {
		o(d)
	}
	d.Base = tactics.NewGeneratorBase(paramSchema(d.opts))
	return d
}

func newDriverID() string {
	return uuid.NewString()[:8]
}

// TypeName is the registry type of the Driver of sc.
func TypeName(sc *scenario.Scenario) string {
	return "SC_" + strings.ToUpper(sc.Name())
}

func (d *Driver) Scenario() *scenario.Scenario { return d.base }
func (d *Driver) Options() Options { return d.opts }

// CloneTypes lists the disruptor clone types created for the current data-fuzz alteration.
func (d *Driver) CloneTypes() []string { return slices.Clone(d.cloneTypes) }

// Current returns the Step under the cursor of the working copy, nil before the first production.
func (d *Driver) Current() *scenario.Step {
	if d.sc == nil {
		return nil
	}
	return d.sc.Current()
}

// Exhausted reports whether every alteration candidate has been consumed.
func (d *Driver) Exhausted() bool { return d.exhausted }

// #endregion constructor

// #region lifecycle

// Setup reads the alteration options from the parameters and restarts the walk.
func (d *Driver) Setup(_ data.Model, _ tactics.Values) error {
	o := optionsFromParams(d.Params(), d.opts)
	if err := o.Validate(); err != nil {
		return err
	}
	d.opts = o
	d.restartAll()
	return nil
}

// Cleanup drops the working copy and the dmaker clones it created.
func (d *Driver) Cleanup() {
	d.restartAll()
}

// Reset restarts the walk and the alteration sequence from scratch.
func (d *Driver) Reset() {
	d.restartAll()
}

func (d *Driver) restartAll() {
	d.dropCloneTypes()
	d.sc = nil
	d.altIdx = 0
	d.exhausted = false
}

// Clone returns a Driver over the same base Scenario with a fresh walk.
func (d *Driver) Clone() tactics.Maker {
	return &Driver{
		Base:     d.CloneBase(),
		base:     d.base,
		resolver: d.resolver,
		opts:     d.opts,
		sink:     d.sink,
		id:       newDriverID(),
		altered:  scenario.NoStep,
	}
}

// StopAll returns the ops cancelling every periodic send and task the Scenario may have started.
func (d *Driver) StopAll() *data.CallbackOps {
	return &data.CallbackOps{StopPeriodic: d.base.PeriodicIDs(), StopTask: d.base.TaskIDs()}
}

// #endregion lifecycle

// #region generate

// Generate implements tactics.Generator.
func (d *Driver) Generate(dm data.Model, env *tactics.Env) (*data.Data, error) {
	return d.GenerateData(dm, env)
}

// GenerateData returns the data of the current Step with its callbacks attached.
// A Step that cannot produce data is crossed when one of its transitions fires
// right away. Once the Scenario is over the result is unusable and tagged with
// the Scenario identity.
func (d *Driver) GenerateData(dm data.Model, _ *tactics.Env) (*data.Data, error) {
	if dm == nil {
		dm = d.resolver.Model()
	}
	if d.sc == nil {
		d.rebuild()
	}

	for range d.opts.MaxHops {
		if d.opts.Altering() && !d.exhausted && d.stepExhausted && d.sc.AtAnchor() {
			d.altIdx++
			d.rebuild()
		}

		step := d.sc.Current()
		step.RunPreHook()

		if step.IsFinal() {
			if d.opts.Altering() && !d.exhausted {
				d.restartIteration()
				continue
			}
			return d.terminal(step), nil
		}

		out, crossed, err := d.stepData(dm, step)
		if err != nil {
			return nil, err
		}
		if crossed {
			continue
		}
		if step.ID() == d.altered {
			d.visited = true
		}
		d.attachCallbacks(dm, out, step)
		return out, nil
	}
	return nil, fmt.Errorf("scenario %s: no data after %d steps", d.base.Name(), d.opts.MaxHops)
}

// stepData produces the data of step. crossed is true when the Step had
// nothing to send and a dp_completed transition moved the cursor.
func (d *Driver) stepData(dm data.Model, step *scenario.Step) (*data.Data, bool, error) {
	if step.IsBlocked() || !step.HasData() {
		out := data.NewEmpty()
		out.MakeBlocked()
		d.tag(out, step)
		return out, false, nil
	}

	var parts []*data.Data
	for _, it := range step.Items() {
		if it.Process != nil && it.Process.IsLazy() {
			p := data.NewEmpty()
			p.MarkPending()
			parts = append(parts, p)
			continue
		}
		p, err := d.itemData(dm, it)
		if err != nil {
			return nil, false, err
		}
		if p != nil {
			parts = append(parts, p)
		}
	}
	d.checkDataFuzzDone(step)

	if len(parts) == 0 {
		step.BeginVisit()
		if step.EvaluateDPCompleted() {
			if err := d.walk(step); err != nil {
				return nil, false, err
			}
			return nil, true, nil
		}
		out := data.NewEmpty()
		out.MakeBlocked()
		d.tag(out, step)
		return out, false, nil
	}

	out := parts[0]
	out.SetBundle(parts[1:])
	d.tag(out, step)
	return out, false, nil
}

// itemData materializes one Step item. A completed DataProcess falls back to its seed.
func (d *Driver) itemData(dm data.Model, it scenario.Item) (*data.Data, error) {
	switch {
	case it.Data != nil:
		return it.Data.Clone(), nil
	case it.Atom != "":
		if dm == nil {
			return nil, fmt.Errorf("atom %q: no data model", it.Atom)
		}
		a, err := dm.Atom(it.Atom)
		if err != nil {
			return nil, fmt.Errorf("atom %q: %w", it.Atom, err)
		}
		return data.New(a), nil
	case it.Process != nil:
		return d.runProcess(dm, it.Process)
	}
	return nil, nil
}

// runProcess resolves the active chain of dp. Expected yields exhaust the
// active process and move on to the next one. Once dp is completed its seed
// is returned instead, nil when it has none.
func (d *Driver) runProcess(dm data.Model, dp *scenario.DataProcess) (*data.Data, error) {
	if len(dp.Processes()) == 0 {
		dp.MarkExhausted()
	}
	if !dp.Completed() || dp.IsAutoRegen() {
		for range len(dp.Processes()) + 1 {
			seed, err := d.seedData(dm, dp)
			if err != nil {
				return nil, err
			}
			out, err := d.resolver.Resolve(dp.Current(), seed)
			if err == nil {
				return out, nil
			}
			if !chain.IsYield(err) {
				return nil, fmt.Errorf("scenario %s: %w", d.base.Name(), err)
			}
			log.Printf("[DRIVER] %s: process %d exhausted: %v", d.base.Name(), dp.Index(), err)
			if !dp.MarkExhausted() {
				break
			}
		}
	}
	if !dp.Completed() {
		return nil, nil
	}
	seed, err := d.seedData(dm, dp)
	if err != nil || seed == nil {
		return nil, err
	}
	out := seed.Clone()
	out.AddInfo(TypeName(d.base), "", "data process completed, sending seed")
	return out, nil
}

func (d *Driver) seedData(dm data.Model, dp *scenario.DataProcess) (*data.Data, error) {
	if dp.Seed() == nil {
		return nil, nil
	}
	if c := dp.CachedSeed(); c != nil {
		return c, nil
	}
	s, err := d.itemData(dm, *dp.Seed())
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	dp.CacheSeed(s)
	return s, nil
}

func (d *Driver) tag(out *data.Data, step *scenario.Step) {
	out.SetOrigin(data.Origin{Scenario: d.base.Name(), ScenarioID: d.base.ID(), Step: int(step.ID())})
	if desc := step.Description(); desc != "" {
		out.AddInfo(TypeName(d.base), "", desc)
	}
}

func (d *Driver) terminal(step *scenario.Step) *data.Data {
	out := data.NewEmpty()
	out.MakeUnusable()
	d.tag(out, step)
	out.AddInfo(TypeName(d.base), "", "scenario exhausted")
	if d.sink != nil {
		p := out.Provenance("exhausted", "final step reached")
		p.CreatedAt = time.Now().UTC()
		d.sink.Emit(p)
	}
	return out
}

// #endregion generate

// #region callbacks

func (d *Driver) attachCallbacks(dm data.Model, out *data.Data, step *scenario.Step) {
	step.BeginVisit()
	cur := out
	sc := d.sc

	out.RegisterCallback(data.HookBeforeSendingStep1, func(*data.Feedback) *data.CallbackOps {
		if d.stale(sc, step) {
			if cur.IsPending() {
				cur.ClearPending()
				cur.MakeBlocked()
			}
			return nil
		}
		ops := &data.CallbackOps{}
		if cur.IsPending() {
			nd, err := d.resolvePending(dm, step)
			switch {
			case err != nil:
				log.Printf("[DRIVER] %s: deferred process failed: %v", d.base.Name(), err)
				cur.ClearPending()
				cur.MakeBlocked()
			case nd != nil:
				d.tag(nd, step)
				cur = nd
				ops.Replace = []*data.Data{nd}
			default:
				cur.ClearPending()
				cur.MakeBlocked()
			}
		}
		step.Evaluate(data.HookBeforeSendingStep1, nil)
		return ops
	})

	out.RegisterCallback(data.HookBeforeSendingStep2, func(*data.Feedback) *data.CallbackOps {
		step.RunSendHook(cur)
		step.Evaluate(data.HookBeforeSendingStep2, nil)
		ops := &data.CallbackOps{FbkMode: step.FbkMode()}
		if to, ok := step.FbkTimeout(); ok {
			ops.FbkTimeout = &to
		}
		return ops
	})

	out.RegisterCallback(data.HookAfterSending, func(*data.Feedback) *data.CallbackOps {
		step.Evaluate(data.HookAfterSending, nil)
		return nil
	})

	out.RegisterCallback(data.HookAfterFeedback, func(fbk *data.Feedback) *data.CallbackOps {
		if d.stale(sc, step) {
			return nil
		}
		step.Evaluate(data.HookAfterFeedback, fbk)
		ops := d.sideEffects(dm, step)
		if err := d.walk(step); err != nil {
			log.Printf("[DRIVER] %s: %v", d.base.Name(), err)
		}
		return ops
	})
}

// stale reports whether a callback registered on step of sc outlived its
// working copy or its visit.
func (d *Driver) stale(sc *scenario.Scenario, step *scenario.Step) bool {
	if d.sc == sc && sc.Current() == step {
		return false
	}
	log.Printf("[DRIVER] %s: stale callback for step %d ignored", d.base.Name(), step.ID())
	return true
}

// resolvePending resolves the lazy DataProcesses of step.
func (d *Driver) resolvePending(dm data.Model, step *scenario.Step) (*data.Data, error) {
	var parts []*data.Data
	for _, it := range step.Items() {
		if it.Process == nil || !it.Process.IsLazy() {
			continue
		}
		p, err := d.runProcess(dm, it.Process)
		if err != nil {
			return nil, err
		}
		if p != nil {
			parts = append(parts, p)
		}
	}
	d.checkDataFuzzDone(step)
	if len(parts) == 0 {
		return nil, nil
	}
	parts[0].SetBundle(parts[1:])
	return parts[0], nil
}

func (d *Driver) sideEffects(dm data.Model, step *scenario.Step) *data.CallbackOps {
	ops := &data.CallbackOps{
		StopPeriodic: step.PeriodicClear(),
		StopTask:     step.TaskStop(),
	}
	for _, p := range step.Periodic() {
		pd, err := d.itemData(dm, p.Item)
		if err != nil || pd == nil {
			log.Printf("[DRIVER] %s: periodic %s has no data: %v", d.base.Name(), p.ID, err)
			continue
		}
		ops.StartPeriodic = append(ops.StartPeriodic, data.PeriodicRequest{ID: p.ID, Period: p.Period, Data: pd})
	}
	for _, t := range step.Tasks() {
		ops.StartTask = append(ops.StartTask, data.TaskRequest{ID: t.ID, Period: t.Period, Run: t.Run})
	}
	return ops
}

// walk follows the transition selected during the visit of step, if any.
func (d *Driver) walk(step *scenario.Step) error {
	tr := step.Selected()
	if tr == nil {
		step.BeginVisit()
		return nil
	}
	if step.ID() == d.altered && tr.To() != step.ID() && (d.opts.CondFuzz || d.opts.IgnoreTiming) {
		d.stepExhausted = true
	}
	return d.sc.WalkTo(tr.To())
}

// #endregion callbacks

package driver

import (
	"fmt"
	"log"
	"strings"

	"github.com/danielpatrickdp/fuzzctl/internal/chain"
	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/scenario"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region rebuild

// rebuild replaces the working copy with a fresh clone of the base Scenario
// and alters the candidate Step at altIdx. With no candidate left the walk
// is over and the anchor of the copy turns final.
func (d *Driver) rebuild() {
	d.dropCloneTypes()
	d.sc = d.base.Clone()
	d.altered = scenario.NoStep
	d.alteredDP = nil
	d.visited = false
	d.stepExhausted = false
	d.stutterCount = 0

	if !d.opts.Altering() {
		return
	}
	cands := d.candidates()
	if d.altIdx >= len(cands) {
		d.exhausted = true
		d.sc.Current().MakeFinal()
		log.Printf("[DRIVER] %s: %d alterations done", d.base.Name(), len(cands))
		return
	}
	step := cands[d.altIdx]
	d.altered = step.ID()
	d.alter(step)
	log.Printf("[DRIVER] %s: altering step %d (%d/%d)", d.base.Name(), step.ID(), d.altIdx+1, len(cands))
}

// restartIteration brings the cursor back to the start of the Scenario once a
// final Step is hit while alterations remain. An altered Step that was never
// visited during the iteration counts as exhausted.
func (d *Driver) restartIteration() {
	if !d.visited {
		d.stepExhausted = true
	}
	if d.stepExhausted {
		d.altIdx++
		d.rebuild()
		return
	}
	if r := d.sc.ReinitAnchor(); r != nil {
		if err := d.sc.WalkTo(r.ID()); err == nil {
			return
		}
	}
	d.sc.Reset()
}

// candidates lists the Steps of the working copy the active mode can alter, in BFS order.
func (d *Driver) candidates() []*scenario.Step {
	var out []*scenario.Step
	for _, s := range d.sc.Steps() {
		if s.IsFinal() {
			continue
		}
		switch {
		case d.opts.DataFuzz, d.opts.Stutter:
			if s.HasData() {
				out = append(out, s)
			}
		case d.opts.CondFuzz || d.opts.IgnoreTiming:
			to, ok := s.FbkTimeout()
			if (d.opts.CondFuzz && s.HasGuards()) || (d.opts.IgnoreTiming && ok && to > 0) {
				out = append(out, s)
			}
		}
	}
	return out
}

// #endregion rebuild

// #region alter

func (d *Driver) alter(step *scenario.Step) {
	switch {
	case d.opts.DataFuzz:
		d.fuzzData(step)
		d.surround(step, true)
	case d.opts.Stutter:
		d.surround(step, true)
		step.ConnectTo(step, scenario.First(), scenario.Describe("stutter"),
			scenario.GuardAfterFeedback(d.stutterGuard))
	default:
		if d.opts.CondFuzz {
			for _, t := range step.Transitions() {
				if t.Guarded() {
					t.Invert()
				}
			}
		}
		if d.opts.IgnoreTiming {
			if _, ok := step.FbkTimeout(); ok {
				step.SetFbkTimeout(0)
			}
		}
		d.surround(step, false)
	}
}

// fuzzData swaps the first item of step for a DataProcess disrupting it with
// one clone of every fuzz type, so the walk leaves the shared instances alone.
// Clone types carry the driver id: drivers over the same Scenario never share
// a clone. The process regenerates until the Step is left.
func (d *Driver) fuzzData(step *scenario.Step) {
	items := append([]scenario.Item(nil), step.Items()...)
	seed := items[0]
	if seed.Process != nil && seed.Process.Seed() != nil {
		seed = *seed.Process.Seed()
	}
	d.seq++
	procs := make([][]chain.Action, 0, len(d.opts.FuzzTypes))
	for _, ft := range d.opts.FuzzTypes {
		typ := fmt.Sprintf("%s#%s.%s.%d", ft, strings.ToLower(d.base.Name()), d.id, d.seq)
		d.cloneTypes = append(d.cloneTypes, typ)
		procs = append(procs, []chain.Action{{Type: typ}})
	}
	d.alteredDP = scenario.NewDataProcess(procs, scenario.WithSeed(seed), scenario.AutoRegen())
	items[0] = scenario.Process(d.alteredDP)
	step.SetItems(items...)
}

// surround branches from the altered Step to the reinit anchor, or the anchor
// when none is set. first puts the branch ahead of the declared transitions.
func (d *Driver) surround(step *scenario.Step, first bool) {
	if !d.opts.ReinitSurround {
		return
	}
	to := d.sc.ReinitAnchor()
	if to == nil {
		to = d.sc.Anchor()
	}
	opts := []scenario.TransitionOption{scenario.Describe("reinit")}
	if first {
		opts = append(opts, scenario.First())
	}
	step.ConnectTo(to, opts...)
}

func (d *Driver) stutterGuard(_ *scenario.Env, _ *scenario.Step, _ *data.Feedback) bool {
	if d.stutterCount < d.opts.StutterMax {
		d.stutterCount++
		return true
	}
	d.stepExhausted = true
	return false
}

func (d *Driver) checkDataFuzzDone(step *scenario.Step) {
	if d.opts.DataFuzz && step.ID() == d.altered && d.alteredDP != nil && d.alteredDP.Completed() {
		d.stepExhausted = true
	}
}

// #endregion alter

// #region clones

// dropCloneTypes removes the dmaker clones created for data fuzzing.
func (d *Driver) dropCloneTypes() {
	for _, typ := range d.cloneTypes {
		for _, reg := range []*tactics.Registry{d.resolver.Tactics(), d.resolver.Generic()} {
			if reg != nil && reg.IsClone(tactics.SpaceDisruptor, typ) {
				if err := reg.RemoveType(tactics.SpaceDisruptor, typ); err != nil {
					log.Printf("[DRIVER] %s: %v", d.base.Name(), err)
				}
			}
		}
	}
	d.cloneTypes = nil
}

// #endregion clones

var _ tactics.Generator = (*Driver)(nil)

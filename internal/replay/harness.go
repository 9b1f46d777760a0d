package replay

import (
	"bytes"
	"cmp"
	"log"
	"slices"

	"github.com/danielpatrickdp/fuzzctl/internal/chain"
	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/logging"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region types
// Item is one recorded production to replay.
type Item struct {
	ID      string
	Actions []chain.Action
	Seed    *data.Data
}

// Result captures the outcome of replaying one item.
type Result struct {
	ID      string
	Outcome string // chain.Label of the resolution error, "ok" on success
	Reason  string
	Output  []byte
	History []data.MakerStep
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total     int
	ByOutcome map[string]int
}

// Mismatch is one result that differs from its fixture expectation.
type Mismatch struct {
	ID       string
	Field    string
	Expected string
	Actual   string
}

// #endregion types

// #region history
// ActionsFromHistory turns a recorded history into a chain request that names
// every dmaker explicitly, so no weighted pick happens on replay.
func ActionsFromHistory(h []data.MakerStep) []chain.Action {
	out := make([]chain.Action, len(h))
	for i, s := range h {
		var in tactics.Values
		if len(s.UserInput) > 0 {
			in = make(tactics.Values, len(s.UserInput))
			for k, v := range s.UserInput {
				in[k] = v
			}
		}
		out[i] = chain.Action{Type: s.Type, Name: s.Name, UserInput: in}
	}
	return out
}

// FromProductions rebuilds replay items from logged productions, oldest first.
// Productions without history are skipped. seed is handed to every item; it is
// required when the logged chains started on a seed.
func FromProductions(entries []logging.ProductionEntry, seed *data.Data) []Item {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b logging.ProductionEntry) int { return cmp.Compare(a.ID, b.ID) })

	var items []Item
	for _, e := range sorted {
		if len(e.History) == 0 {
			continue
		}
		items = append(items, Item{ID: e.DataID, Actions: ActionsFromHistory(e.History), Seed: seed})
	}
	return items
}

// #endregion history

// #region replay
// Replay resolves every item in order through r. Stateful dmakers keep their
// state between items, so items must be replayed in the order they were produced.
func Replay(r *chain.Resolver, items []Item) []Result {
	results := make([]Result, 0, len(items))
	for _, it := range items {
		d, err := r.Resolve(it.Actions, it.Seed)
		res := Result{ID: it.ID, Outcome: chain.Label(err)}
		if err != nil {
			res.Reason = err.Error()
			log.Printf("[REPLAY] %s: %s: %v", it.ID, res.Outcome, err)
		} else {
			res.Output = d.Bytes()
			res.History = d.History()
		}
		results = append(results, res)
	}
	return results
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results), ByOutcome: make(map[string]int)}
	for _, r := range results {
		s.ByOutcome[r.Outcome]++
	}
	return s
}

// Diff compares results with the expectations of their fixture productions, by position.
func Diff(f *Fixture, results []Result) []Mismatch {
	var out []Mismatch
	if len(results) != len(f.Productions) {
		out = append(out, Mismatch{Field: "count", Expected: itoa(len(f.Productions)), Actual: itoa(len(results))})
	}
	for i := range min(len(results), len(f.Productions)) {
		p, r := f.Productions[i], results[i]
		if p.Expect.Outcome != "" && p.Expect.Outcome != r.Outcome {
			out = append(out, Mismatch{ID: p.ID, Field: "outcome", Expected: p.Expect.Outcome, Actual: r.Outcome})
		}
		want, err := p.Expect.OutputBytes()
		if err != nil {
			out = append(out, Mismatch{ID: p.ID, Field: "output", Expected: err.Error()})
			continue
		}
		if want != nil && !bytes.Equal(want, r.Output) {
			out = append(out, Mismatch{ID: p.ID, Field: "output", Expected: hexString(want), Actual: hexString(r.Output)})
		}
	}
	return out
}

// #endregion replay

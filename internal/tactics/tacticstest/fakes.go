// Package tacticstest provides scripted dmakers for tests of the chain and scenario engines.
package tacticstest

import (
	"errors"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// ErrSetup is returned by makers configured with FailSetup.
var ErrSetup = errors.New("scripted setup failure")

// #region generator

// Gen produces Payload on every call.
type Gen struct {
	tactics.Base
	Payload   string
	Calls     int
	Setups    int
	FailSetup bool
	Panic     bool
}

// NewGen returns a generator producing payload.
func NewGen(payload string) *Gen {
	return &Gen{Base: tactics.NewGeneratorBase(tactics.Schema{
		"prefix": {Description: "prepended to the payload", Default: "", Type: "string"},
	}), Payload: payload}
}

func (g *Gen) Setup(_ data.Model, _ tactics.Values) error {
	g.Setups++
	if g.FailSetup {
		return ErrSetup
	}
	return nil
}

func (g *Gen) Generate(_ data.Model, _ *tactics.Env) (*data.Data, error) {
	g.Calls++
	if g.Panic {
		panic("scripted generator panic")
	}
	return data.NewRaw("gen", []byte(g.Params().String("prefix")+g.Payload)), nil
}

func (g *Gen) Clone() tactics.Maker {
	return &Gen{Base: g.CloneBase(), Payload: g.Payload}
}

// #endregion generator

// #region disruptor

// Dis appends Suffix to its input. With YieldAt > 0 it hands over control on that call.
type Dis struct {
	tactics.Base
	Suffix    string
	Calls     int
	Setups    int
	YieldAt   int
	FailSetup bool
	ReturnNil bool
	Unusable  bool
	Reseed    bool
}

// NewDis returns a disruptor appending suffix.
func NewDis(suffix string, controller bool) *Dis {
	return &Dis{Base: tactics.NewDisruptorBase(tactics.Schema{
		"count": {Description: "times the suffix is appended", Default: 1, Type: "integer"},
	}, controller), Suffix: suffix}
}

func (d *Dis) Setup(_ data.Model, _ tactics.Values) error {
	d.Setups++
	if d.FailSetup {
		return ErrSetup
	}
	return nil
}

func (d *Dis) Disrupt(_ data.Model, _ *tactics.Env, in *data.Data) (*data.Data, error) {
	d.Calls++
	if d.YieldAt > 0 && d.Calls == d.YieldAt {
		d.State().YieldControl()
		return nil, nil
	}
	if d.ReturnNil {
		return nil, nil
	}
	b := append([]byte(nil), in.Bytes()...)
	for range max(d.Params().Int("count"), 1) {
		b = append(b, d.Suffix...)
	}
	out := data.NewRaw("dis", b)
	if d.Unusable {
		out.MakeUnusable()
	}
	if d.Reseed {
		d.State().RequireSetup()
	}
	return out, nil
}

func (d *Dis) Clone() tactics.Maker {
	return &Dis{Base: d.CloneBase(), Suffix: d.Suffix, YieldAt: d.YieldAt}
}

// #endregion disruptor

// #region stateful

// Walker emits one variant per call: the seed followed by Variants[i]. It yields once
// every variant has been emitted.
type Walker struct {
	tactics.Base
	Variants []string
	Seeds    int
	seed     []byte
	idx      int
}

// NewWalker returns a stateful disruptor cycling through variants.
func NewWalker(variants ...string) *Walker {
	return &Walker{Base: tactics.NewStatefulBase(nil), Variants: variants}
}

func (w *Walker) SetSeed(_ data.Model, in *data.Data) (*data.Data, error) {
	w.Seeds++
	w.seed = append([]byte(nil), in.Bytes()...)
	w.idx = 0
	return nil, nil
}

func (w *Walker) Disrupt(_ data.Model, _ *tactics.Env, _ *data.Data) (*data.Data, error) {
	if w.idx >= len(w.Variants) {
		w.State().YieldControl()
		return nil, nil
	}
	out := data.NewRaw("walk", append(append([]byte(nil), w.seed...), w.Variants[w.idx]...))
	w.idx++
	return out, nil
}

func (w *Walker) Cleanup() {
	w.seed = nil
	w.idx = 0
}

func (w *Walker) Clone() tactics.Maker {
	return &Walker{Base: w.CloneBase(), Variants: append([]string(nil), w.Variants...)}
}

// #endregion stateful

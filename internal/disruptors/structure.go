package disruptors

import (
	"fmt"
	"math/rand/v2"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region cases

type structOp int

const (
	opTruncate structOp = iota
	opDuplicate
	opGap
	opDelete
)

func (o structOp) String() string {
	switch o {
	case opTruncate:
		return "truncate"
	case opDuplicate:
		return "duplicate"
	case opGap:
		return "gap"
	}
	return "delete"
}

type structCase struct {
	op  structOp
	off int
}

// #endregion cases

// #region struct-walker

// StructWalker is a stateful controller emitting structural variants of its seed:
// truncations, duplicated chunks, inserted gaps and deleted chunks.
type StructWalker struct {
	tactics.Base
	seed  []byte
	cases []structCase
	next  int
	rng   *rand.Rand
}

// NewStructWalker returns a tSTRUCT disruptor.
func NewStructWalker() *StructWalker {
	return &StructWalker{Base: tactics.NewStatefulBase(tactics.Schema{
		"chunk":     {Description: "size of duplicated and deleted chunks", Default: 4, Type: "integer"},
		"gap":       {Description: "random bytes inserted by gap cases", Default: 8, Type: "integer"},
		"rand_seed": {Description: "seed of the gap filler, 0 for random", Default: 0, Type: "integer"},
	})}
}

func (w *StructWalker) Setup(_ data.Model, _ tactics.Values) error {
	if w.Params().Int("chunk") < 1 {
		return fmt.Errorf("chunk must be >= 1")
	}
	if w.Params().Int("gap") < 0 {
		return fmt.Errorf("gap must be >= 0")
	}
	s := uint64(w.Params().Int("rand_seed"))
	if s == 0 {
		s = rand.Uint64()
	}
	w.rng = rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
	return nil
}

func (w *StructWalker) SetSeed(_ data.Model, in *data.Data) (*data.Data, error) {
	w.seed = append([]byte(nil), in.Bytes()...)
	w.cases = w.cases[:0]
	w.next = 0

	n := len(w.seed)
	if n == 0 {
		return nil, nil
	}
	chunk := w.Params().Int("chunk")
	last := -1
	for _, off := range []int{0, n / 2, n - 1} {
		if off != last {
			w.cases = append(w.cases, structCase{opTruncate, off})
			last = off
		}
	}
	for off := 0; off < n; off += chunk {
		w.cases = append(w.cases, structCase{opDuplicate, off}, structCase{opDelete, off})
		if w.Params().Int("gap") > 0 {
			w.cases = append(w.cases, structCase{opGap, off})
		}
	}
	return nil, nil
}

func (w *StructWalker) Disrupt(_ data.Model, _ *tactics.Env, _ *data.Data) (*data.Data, error) {
	if w.next >= len(w.cases) {
		w.State().YieldControl()
		return nil, nil
	}
	c := w.cases[w.next]
	w.next++

	d := data.NewRaw(TypeStruct, w.apply(c))
	d.AddInfo(TypeStruct, "", fmt.Sprintf("%s at offset %d", c.op, c.off))
	return d, nil
}

func (w *StructWalker) apply(c structCase) []byte {
	chunk := w.Params().Int("chunk")
	end := min(c.off+chunk, len(w.seed))
	out := make([]byte, 0, len(w.seed)+max(chunk, w.Params().Int("gap")))
	switch c.op {
	case opTruncate:
		out = append(out, w.seed[:c.off]...)
	case opDuplicate:
		out = append(out, w.seed[:end]...)
		out = append(out, w.seed[c.off:]...)
	case opGap:
		gap := make([]byte, w.Params().Int("gap"))
		for i := range gap {
			gap[i] = byte(w.rng.UintN(256))
		}
		out = append(out, w.seed[:c.off]...)
		out = append(out, gap...)
		out = append(out, w.seed[c.off:]...)
	case opDelete:
		out = append(out, w.seed[:c.off]...)
		out = append(out, w.seed[end:]...)
	}
	return out
}

func (w *StructWalker) Cleanup() {
	w.seed = nil
	w.cases = nil
	w.next = 0
}

func (w *StructWalker) Clone() tactics.Maker {
	return &StructWalker{Base: w.CloneBase()}
}

// #endregion struct-walker

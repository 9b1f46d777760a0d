package disruptors

import (
	"fmt"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region constants

const (
	TypeWalker  = "tTYPE"
	TypeStruct  = "tSTRUCT"
	TypeCorrupt = "C"
	TypeAtom    = "ATOM"
)

// BoundaryBytes are the values the type walker substitutes at each position.
var BoundaryBytes = []byte{0x00, 0x01, 0x7F, 0x80, 0xFE, 0xFF}

// #endregion constants

// #region type-walker

// Walker is a stateful controller: for each byte position of its seed it
// emits one variant per boundary value, then hands over.
type Walker struct {
	tactics.Base
	seed    []byte
	pos     int
	val     int
	emitted int
}

// NewWalker returns a tTYPE disruptor.
func NewWalker() *Walker {
	return &Walker{Base: tactics.NewStatefulBase(tactics.Schema{
		"max_steps": {Description: "variants emitted per seed, -1 for all", Default: -1, Type: "integer"},
		"step":      {Description: "distance between two walked positions", Default: 1, Type: "integer"},
	})}
}

func (w *Walker) Setup(_ data.Model, _ tactics.Values) error {
	if step := w.Params().Int("step"); step < 1 {
		return fmt.Errorf("step must be >= 1, got %d", step)
	}
	return nil
}

func (w *Walker) SetSeed(_ data.Model, in *data.Data) (*data.Data, error) {
	w.seed = append([]byte(nil), in.Bytes()...)
	w.pos, w.val, w.emitted = 0, 0, 0
	return nil, nil
}

func (w *Walker) Disrupt(_ data.Model, _ *tactics.Env, _ *data.Data) (*data.Data, error) {
	limit := w.Params().Int("max_steps")
	for w.pos < len(w.seed) && (limit < 0 || w.emitted < limit) {
		if w.val >= len(BoundaryBytes) {
			w.val = 0
			w.pos += w.Params().Int("step")
			continue
		}
		v := BoundaryBytes[w.val]
		w.val++
		if w.seed[w.pos] == v {
			continue
		}
		out := append([]byte(nil), w.seed...)
		out[w.pos] = v
		w.emitted++
		d := data.NewRaw(TypeWalker, out)
		d.AddInfo(TypeWalker, "", fmt.Sprintf("offset %d set to 0x%02X", w.pos, v))
		return d, nil
	}
	w.State().YieldControl()
	return nil, nil
}

func (w *Walker) Cleanup() {
	w.seed = nil
	w.pos, w.val, w.emitted = 0, 0, 0
}

func (w *Walker) Clone() tactics.Maker {
	return &Walker{Base: w.CloneBase()}
}

// #endregion type-walker

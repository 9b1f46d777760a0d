package disruptors

import (
	"fmt"
	"math/rand/v2"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region corruptor

// Corruptor flips random bits of its input.
type Corruptor struct {
	tactics.Base
}

// NewCorruptor returns a C disruptor.
func NewCorruptor() *Corruptor {
	return &Corruptor{Base: tactics.NewDisruptorBase(tactics.Schema{
		"nb":    {Description: "number of bits to flip", Default: 1, Type: "integer"},
		"ascii": {Description: "never touch the high bit", Default: false, Type: "boolean"},
	}, false)}
}

func (c *Corruptor) Setup(_ data.Model, _ tactics.Values) error {
	if c.Params().Int("nb") < 1 {
		return fmt.Errorf("nb must be >= 1")
	}
	return nil
}

func (c *Corruptor) Disrupt(_ data.Model, _ *tactics.Env, in *data.Data) (*data.Data, error) {
	out := append([]byte(nil), in.Bytes()...)
	if len(out) == 0 {
		return data.NewRaw(TypeCorrupt, out), nil
	}
	bits := 8
	if c.Params().Bool("ascii") {
		bits = 7
	}
	for range c.Params().Int("nb") {
		i := rand.IntN(len(out))
		out[i] ^= 1 << rand.IntN(bits)
	}
	return data.NewRaw(TypeCorrupt, out), nil
}

func (c *Corruptor) Clone() tactics.Maker {
	return &Corruptor{Base: c.CloneBase()}
}

// #endregion corruptor

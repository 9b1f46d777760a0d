package disruptors

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region seed

var seedEnc = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

type frozenSeed struct {
	Name  string `cbor:"1,keyasint"`
	Bytes []byte `cbor:"2,keyasint"`
}

// #endregion seed

// #region atom

// AtomGenerator materializes one named atom of the data model. Once frozen it
// regenerates from the stored seed instead of asking the model again.
type AtomGenerator struct {
	tactics.Base
	frozen []byte
}

// NewAtom returns an ATOM generator bound to name by default.
func NewAtom(name string) *AtomGenerator {
	return &AtomGenerator{Base: tactics.NewGeneratorBase(tactics.Schema{
		"name":   {Description: "atom to materialize", Default: name, Type: "string"},
		"freeze": {Description: "replay the first produced seed", Default: false, Type: "boolean"},
	})}
}

func (g *AtomGenerator) Setup(dm data.Model, _ tactics.Values) error {
	if g.Params().String("name") == "" {
		return errors.New("no atom name")
	}
	if dm == nil {
		return errors.New("no data model")
	}
	return nil
}

func (g *AtomGenerator) Generate(dm data.Model, _ *tactics.Env) (*data.Data, error) {
	if g.frozen != nil {
		var s frozenSeed
		if err := cbor.Unmarshal(g.frozen, &s); err != nil {
			return nil, fmt.Errorf("decode frozen seed: %w", err)
		}
		return data.NewRaw(s.Name, s.Bytes), nil
	}
	a, err := dm.Atom(g.Params().String("name"))
	if err != nil {
		return nil, fmt.Errorf("atom %q: %w", g.Params().String("name"), err)
	}
	d := data.New(a)
	if g.Params().Bool("freeze") {
		if err := g.FreezeSeed(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// FreezeSeed stores d as the seed every later Generate call returns.
func (g *AtomGenerator) FreezeSeed(d *data.Data) error {
	name := g.Params().String("name")
	if c := d.Content(); c != nil {
		name = c.Name()
	}
	b, err := seedEnc.Marshal(frozenSeed{Name: name, Bytes: d.Bytes()})
	if err != nil {
		return fmt.Errorf("encode frozen seed: %w", err)
	}
	g.frozen = b
	return nil
}

// Frozen reports whether a seed is stored.
func (g *AtomGenerator) Frozen() bool { return g.frozen != nil }

func (g *AtomGenerator) Cleanup() { g.frozen = nil }

func (g *AtomGenerator) Clone() tactics.Maker {
	return &AtomGenerator{Base: g.CloneBase()}
}

// #endregion atom

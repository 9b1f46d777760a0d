package replay

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/fuzzctl/internal/chain"
	"github.com/danielpatrickdp/fuzzctl/internal/data"
)

// #region fixture-types

// Fixture is the top-level YAML structure for a replay fixture.
type Fixture struct {
	Description string              `yaml:"description"`
	Seed        string              `yaml:"seed,omitempty"`
	Productions []FixtureProduction `yaml:"productions"`
}

// FixtureProduction is one chain request with its expected outcome.
// A production-level seed overrides the fixture seed.
type FixtureProduction struct {
	ID      string         `yaml:"id"`
	Seed    string         `yaml:"seed,omitempty"`
	Actions []chain.Action `yaml:"actions"`
	Expect  FixtureExpect  `yaml:"expect"`
}

// FixtureExpect captures the expected outcome of one production.
type FixtureExpect struct {
	Outcome   string `yaml:"outcome"`
	Output    string `yaml:"output,omitempty"`
	OutputHex string `yaml:"output_hex,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a YAML fixture file.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f, err := ParseFixture(raw)
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return f, nil
}

// ParseFixture decodes a YAML fixture document.
func ParseFixture(raw []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	for i, p := range f.Productions {
		if len(p.Actions) == 0 {
			return nil, fmt.Errorf("production %d (%s): no actions", i, p.ID)
		}
	}
	return &f, nil
}

// Items converts the fixture productions to replay items.
func (f *Fixture) Items() []Item {
	items := make([]Item, len(f.Productions))
	for i, p := range f.Productions {
		seed := p.Seed
		if seed == "" {
			seed = f.Seed
		}
		var sd *data.Data
		if seed != "" {
			sd = data.NewRaw("seed", []byte(seed))
		}
		id := p.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		items[i] = Item{ID: id, Actions: p.Actions, Seed: sd}
	}
	return items
}

// OutputBytes returns the expected output, nil when the fixture does not pin it.
func (e FixtureExpect) OutputBytes() ([]byte, error) {
	switch {
	case e.OutputHex != "":
		b, err := hex.DecodeString(e.OutputHex)
		if err != nil {
			return nil, fmt.Errorf("output_hex: %w", err)
		}
		return b, nil
	case e.Output != "":
		return []byte(e.Output), nil
	}
	return nil, nil
}

// #endregion fixture-loader

// #region helpers
func hexString(b []byte) string { return hex.EncodeToString(b) }

func itoa(n int) string { return strconv.Itoa(n) }

// #endregion helpers

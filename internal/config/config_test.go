package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/fuzzctl/internal/disruptors"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics/tacticstest"
)

const sample = `
db: runs.db
tactics:
  - kind: disruptor
    type: C
    weight: 0
  - kind: disruptor
    type: tTYPE
    name: walk
    valid: false
  - kind: generator
    type: G
    name: g2
    weight: 3.5
driver:
  stutter: true
  stutter_max: 4
  reinit: true
`

func TestParse(t *testing.T) {
	t.Setenv("FUZZCTL_DB", "")
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "runs.db", cfg.DB)
	require.Len(t, cfg.Tactics, 3)
	assert.Equal(t, "C", cfg.Tactics[0].Type)
	require.NotNil(t, cfg.Tactics[0].Weight)
	assert.Zero(t, *cfg.Tactics[0].Weight)
	assert.Nil(t, cfg.Tactics[0].Valid)
	assert.True(t, cfg.Driver.Stutter)
	assert.Equal(t, 4, cfg.Driver.StutterMax)
	assert.True(t, cfg.Driver.ReinitSurround)
	// unset keys keep their defaults
	assert.Equal(t, 64, cfg.Driver.MaxHops)
	assert.Equal(t, []string{disruptors.TypeWalker, disruptors.TypeStruct}, cfg.Driver.FuzzTypes)
}

func TestParse_Empty(t *testing.T) {
	t.Setenv("FUZZCTL_DB", "")
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParse_EnvOverridesDB(t *testing.T) {
	t.Setenv("FUZZCTL_DB", "/tmp/env.db")
	cfg, err := Parse([]byte("db: file.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.DB)
	assert.Equal(t, "/tmp/env.db", DefaultConfig().DB)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", "tactics: ["},
		{"unknown key", "dbs: x\n"},
		{"unknown kind", "tactics:\n  - {kind: model, type: G}\n"},
		{"missing type", "tactics:\n  - {kind: generator}\n"},
		{"negative weight", "tactics:\n  - {kind: generator, type: G, weight: -1}\n"},
		{"bad driver key", "driver: {fuzz: true}\n"},
		{"combined modes", "driver: {data_fuzz: true, stutter: true}\n"},
		{"zero hops", "driver: {max_hops: 0}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("FUZZCTL_DB", "")
	path := filepath.Join(t.TempDir(), "fuzzctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "runs.db", cfg.DB)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	t.Setenv("FUZZCTL_DB", "")
	reg := tactics.NewRegistry("target")
	require.NoError(t, reg.Register(tactics.SpaceGenerator, "G", "g1", tacticstest.NewGen("a"), 1, true))
	require.NoError(t, reg.Register(tactics.SpaceGenerator, "G", "g2", tacticstest.NewGen("b"), 1, true))
	gen, err := disruptors.NewGenericRegistry()
	require.NoError(t, err)

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(reg, gen))

	assert.Equal(t, map[string]float64{"g1": 1, "g2": 3.5}, reg.Weights(tactics.SpaceGenerator, "G"))
	assert.Zero(t, gen.TotalWeight(tactics.SpaceDisruptor, disruptors.TypeCorrupt, false))
	assert.Zero(t, gen.TotalWeight(tactics.SpaceDisruptor, disruptors.TypeWalker, true))
	assert.Equal(t, 1.0, gen.TotalWeight(tactics.SpaceDisruptor, disruptors.TypeWalker, false))
}

func TestApply_Unknown(t *testing.T) {
	reg := tactics.NewRegistry("target")
	require.NoError(t, reg.Register(tactics.SpaceGenerator, "G", "g1", tacticstest.NewGen("a"), 1, true))

	cfg := Config{Tactics: []Override{
		{Kind: "generator", Type: "missing"},
		{Kind: "generator", Type: "G", Name: "nope", Valid: new(bool)},
		{Kind: "generator", Type: "G", Name: "g1", Valid: new(bool)},
	}}
	err := cfg.Apply(reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, tactics.ErrUnknownType)
	assert.Contains(t, err.Error(), "tactics[1]")
	// later overrides still applied
	assert.Zero(t, reg.TotalWeight(tactics.SpaceGenerator, "G", true))
}

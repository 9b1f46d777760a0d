package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/fuzzctl/internal/chain"
	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/driver"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics/tacticstest"
)

const scenarioDoc = `
atoms:
  greeting: {text: hello}
  magic: {hex: "cafe"}
scenarios:
  - name: login
    reinit: hello
    steps:
      - name: hello
        data:
          - atom: greeting
          - hex: "0d0a"
        fbk_timeout: 1500ms
        fbk_mode: wait_full
        periodic:
          - id: ping
            period: 1s
            data: {text: PING}
        next:
          - to: auth
            fbk_contains: "OK"
          - to: hello
            description: retry
      - name: auth
        data:
          - process:
              chains: [[{type: tX}]]
              seed: {atom: magic}
              auto_regen: true
        periodic_clear: [ping]
        next:
          - {to: bye, fbk_status_below: 0}
          - {to: auth}
      - name: bye
        final: true
`

// feed plays every hook of d, fbk reaching after_fbk only.
func feed(d *data.Data, fbk *data.Feedback) []*data.CallbackOps {
	var ops []*data.CallbackOps
	for _, h := range data.Hooks {
		var f *data.Feedback
		if h == data.HookAfterFeedback {
			f = fbk
		}
		ops = append(ops, d.RunCallbacks(h, f)...)
	}
	return ops
}

func TestScenarios_Build(t *testing.T) {
	t.Setenv("FUZZCTL_DB", "")
	cfg, err := Parse([]byte(scenarioDoc))
	require.NoError(t, err)

	model, err := cfg.Model()
	require.NoError(t, err)
	assert.Equal(t, Atoms{"greeting": []byte("hello"), "magic": {0xca, 0xfe}}, model)

	scs, err := cfg.Scenarios()
	require.NoError(t, err)
	require.Len(t, scs, 1)
	sc := scs[0]
	assert.Equal(t, "login", sc.Name())
	require.Len(t, sc.Steps(), 3)
	assert.Same(t, sc.Anchor(), sc.ReinitAnchor())
	assert.Equal(t, []string{"login.ping"}, sc.PeriodicIDs())

	hello := sc.Anchor()
	to, ok := hello.FbkTimeout()
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, to)
	assert.Equal(t, "wait_full", hello.FbkMode())
	require.Len(t, hello.Items(), 2)
	assert.Equal(t, "greeting", hello.Items()[0].Atom)
	assert.Equal(t, []byte{0x0d, 0x0a}, hello.Items()[1].Data.Bytes())
	require.Len(t, hello.Transitions(), 2)
	assert.True(t, hello.Transitions()[0].Guarded())
	assert.Equal(t, "retry", hello.Transitions()[1].Description())
}

func TestScenarios_DriveGuards(t *testing.T) {
	t.Setenv("FUZZCTL_DB", "")
	cfg, err := Parse([]byte(scenarioDoc))
	require.NoError(t, err)
	scs, err := cfg.Scenarios()
	require.NoError(t, err)
	model, err := cfg.Model()
	require.NoError(t, err)

	reg := tactics.NewRegistry(t.Name())
	require.NoError(t, reg.Register(tactics.SpaceDisruptor, "tX", "x", tacticstest.NewDis("!", false), 1, true))
	drv := driver.New(scs[0], chain.NewResolver(reg, model))

	next := func() *data.Data {
		d, err := drv.GenerateData(nil, nil)
		require.NoError(t, err)
		return d
	}
	reply := func(status int, text string) *data.Feedback {
		return data.NewFeedback(data.FeedbackEntry{Source: "target", Status: status, Content: []byte(text)})
	}

	d := next()
	require.Len(t, d.Bundle(), 2)
	assert.Equal(t, "hello", string(d.Bytes()))
	feed(d, reply(0, "NOPE"))
	assert.Equal(t, "hello", string(next().Bytes()), "unmatched feedback retries")

	d = next()
	ops := feed(d, reply(0, "200 OK"))
	var started []string
	for _, o := range ops {
		for _, p := range o.StartPeriodic {
			started = append(started, p.ID)
		}
	}
	assert.Equal(t, []string{"login.ping"}, started)

	d = next()
	assert.Equal(t, []byte{0xca, 0xfe, '!'}, d.Bytes())
	ops = feed(d, reply(0, "fine"))
	require.NotEmpty(t, ops)
	assert.Equal(t, []string{"login.ping"}, ops[len(ops)-1].StopPeriodic)
	assert.Equal(t, "auth", stepName(t, drv), "status not below 0 stays")

	feed(next(), reply(-2, "crash"))
	assert.True(t, drv.Current().IsFinal())
}

func stepName(t *testing.T, drv *driver.Driver) string {
	t.Helper()
	if drv.Current().IsFinal() {
		return "bye"
	}
	if drv.Current().Items()[0].Process != nil {
		return "auth"
	}
	return "hello"
}

func TestScenarios_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown target", "scenarios:\n  - name: s\n    steps:\n      - {name: a, next: [{to: b}]}\n", `unknown step "b"`},
		{"duplicate step", "scenarios:\n  - name: s\n    steps:\n      - {name: a}\n      - {name: a}\n", `duplicate step "a"`},
		{"duplicate scenario", "scenarios:\n  - {name: s, steps: [{name: a}]}\n  - {name: s, steps: [{name: a}]}\n", `duplicate name "s"`},
		{"unknown reinit", "scenarios:\n  - {name: s, reinit: z, steps: [{name: a}]}\n", `unknown reinit step "z"`},
		{"unknown clear", "scenarios:\n  - {name: s, steps: [{name: a, periodic_clear: [hb]}]}\n", `unknown periodic "hb"`},
		{"bad timeout", "scenarios:\n  - {name: s, steps: [{name: a, fbk_timeout: soon}]}\n", "fbk_timeout"},
		{"empty item", "scenarios:\n  - {name: s, steps: [{name: a, data: [{text: \"\"}]}]}\n", "exactly one of"},
		{"nested seed", "scenarios:\n  - {name: s, steps: [{name: a, data: [{process: {chains: [[{type: G}]], seed: {process: {chains: [[{type: G}]]}}}}]}]}\n", "seed cannot be a process"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FUZZCTL_DB", "")
			cfg, err := Parse([]byte(tt.doc))
			require.NoError(t, err)
			_, err = cfg.Scenarios()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestScenarios_SchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"two item kinds", "scenarios:\n  - {name: s, steps: [{name: a, data: [{text: x, atom: y}]}]}\n"},
		{"no steps", "scenarios:\n  - {name: s, steps: []}\n"},
		{"bad hex", "atoms:\n  a: {hex: xyz}\n"},
		{"unknown step key", "scenarios:\n  - {name: s, steps: [{name: a, wait: 1}]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.ErrorContains(t, err, "config validation failed")
		})
	}
}

package chain

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics/tacticstest"
)

// #region mock

type model map[string][]byte

func (m model) Atom(name string) (data.Atom, error) {
	b, ok := m[name]
	if !ok {
		return nil, errors.New("no such atom")
	}
	return data.NewRawAtom(name, b), nil
}

type sink struct{ records []data.Provenance }

func (s *sink) Emit(p data.Provenance) { s.records = append(s.records, p) }

func newRegistry(t *testing.T) *tactics.Registry {
	t.Helper()
	return tactics.NewRegistry(t.Name(), tactics.WithRand(rand.New(rand.NewPCG(3, 4))))
}

func register(t *testing.T, reg *tactics.Registry, typeName, name string, m tactics.Maker) {
	t.Helper()
	require.NoError(t, reg.Register(m.Kind().Space(), typeName, name, m, 1, true))
}

// #endregion mock

func TestResolve_GeneratorThenDisruptors(t *testing.T) {
	reg := newRegistry(t)
	g := tacticstest.NewGen("seed")
	register(t, reg, "G", "g", g)
	register(t, reg, "tA", "a", tacticstest.NewDis("-a", false))
	register(t, reg, "tB", "b", tacticstest.NewDis("-b", false))
	s := &sink{}
	r := NewResolver(reg, nil, WithSink(s))

	d, err := r.Resolve([]Action{
		{Type: "G", UserInput: tactics.Values{"prefix": ">"}},
		{Type: "tA"},
		{Type: "tB", Name: "b", UserInput: tactics.Values{"count": 2}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, ">seed-a-b-b", string(d.Bytes()))

	h := d.History()
	require.Len(t, h, 3)
	assert.Equal(t, data.MakerStep{Type: "G", Name: "g", UserInput: map[string]any{"prefix": ">"}}, h[0])
	assert.Equal(t, "a", h[1].Name)
	init, ok := d.InitialMaker()
	require.True(t, ok)
	assert.Equal(t, "G", init.Type)

	require.Len(t, s.records, 1)
	assert.Equal(t, "ok", s.records[0].Outcome)
	assert.Equal(t, d.ID(), s.records[0].DataID)
}

func TestResolve_ControllerReuseRejected(t *testing.T) {
	reg := newRegistry(t)
	g := tacticstest.NewGen("x")
	c := tacticstest.NewDis("-c", true)
	register(t, reg, "G", "g", g)
	register(t, reg, "tC", "c", c)
	r := NewResolver(reg, nil)

	_, err := r.Resolve([]Action{{Type: "G"}, {Type: "tC", Name: "c"}, {Type: "tC", Name: "c"}}, nil)
	require.ErrorIs(t, err, ErrConfig)
	assert.False(t, IsYield(err))
	assert.Zero(t, g.Calls)
	assert.Zero(t, c.Calls)
	assert.Zero(t, c.Setups)
}

func TestResolve_NonControllerMayRepeat(t *testing.T) {
	reg := newRegistry(t)
	register(t, reg, "G", "g", tacticstest.NewGen("x"))
	register(t, reg, "tA", "a", tacticstest.NewDis("-a", false))
	r := NewResolver(reg, nil)

	d, err := r.Resolve([]Action{{Type: "G"}, {Type: "tA", Name: "a"}, {Type: "tA", Name: "a"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x-a-a", string(d.Bytes()))
}

func TestResolve_HandOverReactivation(t *testing.T) {
	reg := newRegistry(t)
	g := tacticstest.NewGen("x")
	d1 := tacticstest.NewDis("-1", true)
	d1.YieldAt = 2
	d2 := tacticstest.NewDis("-2", false)
	register(t, reg, "G", "g", g)
	register(t, reg, "tD1", "d1", d1)
	register(t, reg, "tD2", "d2", d2)
	r := NewResolver(reg, nil)
	actions := []Action{{Type: "G"}, {Type: "tD1"}, {Type: "tD2"}}

	d, err := r.Resolve(actions, nil)
	require.NoError(t, err)
	assert.Equal(t, "x-1-2", string(d.Bytes()))
	assert.True(t, d1.State().InControl())

	_, err = r.Resolve(actions, nil)
	require.ErrorIs(t, err, ErrHandOver)
	assert.True(t, IsYield(err))
	var oe *OutcomeError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "tD1", oe.Type)
	assert.Equal(t, "d1", oe.Name)
	assert.Equal(t, []string{"tD1/d1", "G/g"}, oe.Reactivated)
	assert.Equal(t, 1, g.Calls, "generator suppressed while d1 was in control")
	assert.Equal(t, 1, d2.Calls)

	for _, m := range []tactics.Maker{g, d1, d2} {
		assert.True(t, m.State().Active())
	}
	assert.False(t, d1.State().HandOver())
	assert.False(t, d1.State().InControl())

	d, err = r.Resolve(actions, nil)
	require.NoError(t, err)
	assert.Equal(t, "x-1-2", string(d.Bytes()))
	assert.Equal(t, 2, g.Calls)
}

func TestResolve_StatefulControllerCycle(t *testing.T) {
	reg := newRegistry(t)
	g := tacticstest.NewGen("p")
	w := tacticstest.NewWalker("1", "2")
	register(t, reg, "G", "g", g)
	register(t, reg, "tW", "w", w)
	r := NewResolver(reg, nil)
	actions := []Action{{Type: "G"}, {Type: "tW"}}

	var outs []string
	for range 2 {
		d, err := r.Resolve(actions, nil)
		require.NoError(t, err)
		outs = append(outs, string(d.Bytes()))
	}
	assert.Equal(t, []string{"p1", "p2"}, outs)
	assert.Equal(t, 1, g.Calls)
	assert.Equal(t, 1, w.Seeds)

	_, err := r.Resolve(actions, nil)
	require.ErrorIs(t, err, ErrHandOver)
	assert.True(t, w.State().NeedSeed())

	d, err := r.Resolve(actions, nil)
	require.NoError(t, err)
	assert.Equal(t, "p1", string(d.Bytes()))
	assert.Equal(t, 2, g.Calls)
	assert.Equal(t, 2, w.Seeds)
}

func TestResolve_NestedControllersHandOver(t *testing.T) {
	reg := newRegistry(t)
	g := tacticstest.NewGen("s")
	w1 := tacticstest.NewWalker("1", "2")
	w2 := tacticstest.NewWalker("x", "y")
	register(t, reg, "G", "g", g)
	register(t, reg, "tW1", "w1", w1)
	register(t, reg, "tW2", "w2", w2)
	r := NewResolver(reg, nil)
	actions := []Action{{Type: "G"}, {Type: "tW1"}, {Type: "tW2"}}

	var got []string
	var reactivated [][]string
	for range 8 {
		d, err := r.Resolve(actions, nil)
		if err != nil {
			var oe *OutcomeError
			require.ErrorAs(t, err, &oe)
			require.ErrorIs(t, err, ErrHandOver)
			got = append(got, "handover@"+oe.Type)
			reactivated = append(reactivated, oe.Reactivated)
			continue
		}
		got = append(got, string(d.Bytes()))
	}

	assert.Equal(t, []string{
		"s1x", "s1y", "handover@tW2",
		"s2x", "s2y", "handover@tW2",
		"handover@tW1", "s1x",
	}, got)
	assert.Equal(t, [][]string{
		{"tW2/w2", "tW1/w1"},
		{"tW2/w2", "tW1/w1"},
		{"tW1/w1", "G/g"},
	}, reactivated, "reactivation stops at the outer controller still in control")
	assert.Equal(t, 2, g.Calls)
	assert.Equal(t, 2, w1.Seeds)
	assert.Equal(t, 3, w2.Seeds)
}

func TestResolve_SkippedLinkLeavesNote(t *testing.T) {
	reg := newRegistry(t)
	register(t, reg, "G", "g", tacticstest.NewGen("p"))
	register(t, reg, "tW", "w", tacticstest.NewWalker("1", "2"))
	r := NewResolver(reg, nil)
	actions := []Action{{Type: "G"}, {Type: "tW"}}

	_, err := r.Resolve(actions, nil)
	require.NoError(t, err)
	d, err := r.Resolve(actions, nil)
	require.NoError(t, err)

	info := d.Info()
	require.NotEmpty(t, info)
	assert.Equal(t, data.InfoEntry{Type: "G", Name: "g", Text: "inactive, skipped"}, info[0])
	require.Len(t, d.History(), 1)
	assert.Equal(t, "tW", d.History()[0].Type)
}

func TestResolve_SetupFailureIsUnrecoverable(t *testing.T) {
	reg := newRegistry(t)
	register(t, reg, "G", "g", tacticstest.NewGen("x"))
	d := tacticstest.NewDis("-d", false)
	d.FailSetup = true
	register(t, reg, "tD", "d", d)
	r := NewResolver(reg, nil)
	actions := []Action{{Type: "G"}, {Type: "tD", UserInput: tactics.Values{"count": 3}}}

	_, err := r.Resolve(actions, nil)
	require.ErrorIs(t, err, ErrUnrecoverable)
	require.ErrorIs(t, err, tacticstest.ErrSetup)
	assert.False(t, IsYield(err))
	assert.Zero(t, d.Calls)
	assert.True(t, d.State().SetupRequired())
	assert.Equal(t, 1, d.Params().Int("count"), "defaults restored")

	d.FailSetup = false
	out, err := r.Resolve(actions, nil)
	require.NoError(t, err)
	assert.Equal(t, "x-d-d-d", string(out.Bytes()))
}

func TestResolve_InvalidParamsAreUnrecoverable(t *testing.T) {
	reg := newRegistry(t)
	register(t, reg, "G", "g", tacticstest.NewGen("x"))
	r := NewResolver(reg, nil)

	_, err := r.Resolve([]Action{{Type: "G", UserInput: tactics.Values{"bogus": 1}}}, nil)
	require.ErrorIs(t, err, ErrUnrecoverable)
}

func TestResolve_SetupRerunsOnInputChange(t *testing.T) {
	reg := newRegistry(t)
	register(t, reg, "G", "g", tacticstest.NewGen("x"))
	d := tacticstest.NewDis("-d", false)
	register(t, reg, "tD", "d", d)
	r := NewResolver(reg, nil)

	for _, n := range []int{1, 1, 2} {
		_, err := r.Resolve([]Action{{Type: "G"}, {Type: "tD", UserInput: tactics.Values{"count": n}}}, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, d.Setups)
}

func TestResolve_ResetRequestCleansUp(t *testing.T) {
	reg := newRegistry(t)
	register(t, reg, "G", "g", tacticstest.NewGen("x"))
	d := tacticstest.NewDis("-d", false)
	d.Reseed = true
	register(t, reg, "tD", "d", d)
	r := NewResolver(reg, nil)
	actions := []Action{{Type: "G"}, {Type: "tD"}}

	for range 2 {
		_, err := r.Resolve(actions, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, d.Setups)
}

func TestResolve_TypedYields(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(d *tacticstest.Dis)
		want error
	}{
		{"nil-result", func(d *tacticstest.Dis) { d.ReturnNil = true }, ErrDataInvalid},
		{"unusable-result", func(d *tacticstest.Dis) { d.Unusable = true }, ErrDataUnusable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry(t)
			register(t, reg, "G", "g", tacticstest.NewGen("x"))
			d := tacticstest.NewDis("-d", false)
			tt.cfg(d)
			register(t, reg, "tD", "d", d)
			s := &sink{}
			r := NewResolver(reg, nil, WithSink(s))

			_, err := r.Resolve([]Action{{Type: "G"}, {Type: "tD"}}, nil)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsYield(err))
			var oe *OutcomeError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, "tD", oe.Type)
			assert.Equal(t, "d", oe.Name)

			require.Len(t, s.records, 1)
			assert.Equal(t, Label(err), s.records[0].Outcome)
			assert.Len(t, s.records[0].History, 1)
		})
	}
}

func TestResolve_PanicIsRecovered(t *testing.T) {
	reg := newRegistry(t)
	g := tacticstest.NewGen("x")
	g.Panic = true
	register(t, reg, "G", "g", g)
	r := NewResolver(reg, nil)

	_, err := r.Resolve([]Action{{Type: "G"}}, nil)
	require.ErrorIs(t, err, ErrUnrecoverable)
	assert.Contains(t, err.Error(), "panic")

	g.Panic = false
	_, err = r.Resolve([]Action{{Type: "G"}}, nil)
	require.NoError(t, err)
}

func TestResolve_Lookup(t *testing.T) {
	reg := newRegistry(t)
	register(t, reg, "G", "g", tacticstest.NewGen("x"))
	generic := newRegistry(t)
	register(t, generic, "tG", "gen", tacticstest.NewDis("-generic", false))
	dm := model{"greeting": []byte("hi")}
	r := NewResolver(reg, dm, WithGeneric(generic))

	t.Run("generic-fallback", func(t *testing.T) {
		d, err := r.Resolve([]Action{{Type: "G"}, {Type: "tG"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, "x-generic", string(d.Bytes()))
	})

	t.Run("clone-pattern", func(t *testing.T) {
		d, err := r.Resolve([]Action{{Type: "G"}, {Type: "tG#mine"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, "x-generic", string(d.Bytes()))
		assert.True(t, generic.IsClone(tactics.SpaceDisruptor, "tG#mine"))
		assert.False(t, reg.Has(tactics.SpaceDisruptor, "tG#mine"))
	})

	t.Run("atom-fallback", func(t *testing.T) {
		d, err := r.Resolve([]Action{{Type: "greeting"}, {Type: "tG"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, "hi-generic", string(d.Bytes()))
		init, ok := d.InitialMaker()
		require.True(t, ok)
		assert.Equal(t, "greeting", init.Type)
	})

	t.Run("unknown-type", func(t *testing.T) {
		_, err := r.Resolve([]Action{{Type: "G"}, {Type: "nope"}}, nil)
		require.ErrorIs(t, err, ErrConfig)
		require.ErrorIs(t, err, tactics.ErrUnknownType)
	})

	t.Run("unknown-name", func(t *testing.T) {
		_, err := r.Resolve([]Action{{Type: "G", Name: "other"}}, nil)
		require.ErrorIs(t, err, ErrConfig)
	})

	t.Run("empty-chain", func(t *testing.T) {
		_, err := r.Resolve(nil, nil)
		require.ErrorIs(t, err, ErrConfig)
	})
}

func TestResolve_SeededChain(t *testing.T) {
	reg := newRegistry(t)
	register(t, reg, "tD", "d", tacticstest.NewDis("-d", false))
	r := NewResolver(reg, nil)

	seed := data.NewRaw("seed", []byte("s"))
	seed.AppendHistory(data.MakerStep{Type: "ORIG", Name: "o"})
	seed.SetInitialMaker(data.MakerStep{Type: "ORIG", Name: "o"})

	d, err := r.Resolve([]Action{{Type: "tD"}}, seed)
	require.NoError(t, err)
	assert.Equal(t, "s-d", string(d.Bytes()))
	h := d.History()
	require.Len(t, h, 2)
	assert.Equal(t, "ORIG", h[0].Type)
	assert.Equal(t, "tD", h[1].Type)
	init, ok := d.InitialMaker()
	require.True(t, ok)
	assert.Equal(t, "ORIG", init.Type)
	assert.Len(t, seed.History(), 1, "seed untouched")
}

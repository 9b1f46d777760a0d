package tactics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState_GeneratorCannotControl(t *testing.T) {
	_, err := NewState(KindGenerator, true)
	require.Error(t, err)

	st, err := NewState(KindGenerator, false)
	require.NoError(t, err)
	st.TakeControl()
	st.YieldControl()
	assert.False(t, st.InControl())
	assert.False(t, st.HandOver())
}

func TestState_ControlCycle(t *testing.T) {
	st, err := NewState(KindStatefulDisruptor, true)
	require.NoError(t, err)
	assert.True(t, st.Active())
	assert.True(t, st.SetupRequired())
	assert.True(t, st.NeedSeed())

	st.MarkSetupDone("k")
	st.ConsumeSeed()
	assert.False(t, st.InControl(), "not engaged before first invocation")

	st.TakeControl()
	assert.True(t, st.InControl())

	st.YieldControl()
	assert.True(t, st.HandOver())
	assert.False(t, st.InControl())

	st.Release()
	assert.False(t, st.HandOver())
	assert.False(t, st.Engaged())
	assert.True(t, st.NeedSeed())
	assert.Equal(t, "k", st.SetupKey())
}

func TestState_ResetKeepsController(t *testing.T) {
	st, err := NewState(KindDisruptor, true)
	require.NoError(t, err)
	st.MarkSetupDone("k")
	st.Deactivate()
	st.TakeControl()
	st.YieldControl()

	st.Reset()
	assert.True(t, st.Active())
	assert.True(t, st.Controller())
	assert.True(t, st.SetupRequired())
	assert.False(t, st.HandOver())
	assert.False(t, st.NeedSeed(), "plain disruptors never wait for a seed")
	assert.Empty(t, st.SetupKey())
}

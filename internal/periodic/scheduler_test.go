package periodic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
)

func TestStart_PublishesOnTopic(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := s.Subscribe(ctx, "hb")
	require.NoError(t, err)

	d := data.NewRaw("hb", []byte("ping"))
	require.NoError(t, s.Start("hb", 5*time.Millisecond, d))
	assert.True(t, s.Running("hb"))

	for range 2 {
		select {
		case m := <-msgs:
			assert.Equal(t, "ping", string(m.Payload))
			assert.Equal(t, d.ID(), m.Metadata.Get(MetaDataID))
			m.Ack()
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for periodic payload")
		}
	}

	assert.True(t, s.Stop("hb"))
	assert.False(t, s.Running("hb"))
	assert.False(t, s.Stop("hb"), "second stop is a no-op")
}

func TestStart_Rejects(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close()

	assert.Error(t, s.Start("x", 0, data.NewRaw("x", nil)))
	assert.Error(t, s.Start("x", time.Second, nil))
	assert.Error(t, s.StartTask("t", time.Second, nil))
	assert.Error(t, s.StartTask("t", -time.Second, func(context.Context) error { return nil }))
}

func TestStartTask_RunsUntilStopped(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close()

	var runs atomic.Int32
	require.NoError(t, s.StartTask("t", 2*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	}))
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, s.StopTask("t"))

	stopped := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), stopped+1)
}

func TestStartTask_Once(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close()

	done := make(chan struct{})
	require.NoError(t, s.StartTask("once", 0, func(context.Context) error {
		close(done)
		return nil
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	assert.Eventually(t, func() bool { return !s.Running("once") }, time.Second, time.Millisecond,
		"a task run once is dropped when it returns")
	assert.False(t, s.StopTask("once"))
}

func TestStartTask_OnceReplacedKeepsSuccessor(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close()

	returned := make(chan struct{})
	require.NoError(t, s.StartTask("t", 0, func(ctx context.Context) error {
		defer close(returned)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, s.StartTask("t", time.Hour, func(context.Context) error { return nil }))

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("replaced task was not cancelled")
	}
	assert.Never(t, func() bool { return !s.Running("t") }, 50*time.Millisecond, time.Millisecond,
		"the replaced run does not untrack its successor")
}

func TestApply(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close()

	var runs atomic.Int32
	err := s.Apply(&data.CallbackOps{
		StartPeriodic: []data.PeriodicRequest{{ID: "p", Period: time.Hour, Data: data.NewRaw("p", []byte("x"))}},
		StartTask: []data.TaskRequest{{ID: "t", Period: time.Hour, Run: func(context.Context) error {
			runs.Add(1)
			return nil
		}}},
	})
	require.NoError(t, err)
	assert.True(t, s.Running("p"))
	assert.True(t, s.Running("t"))

	require.NoError(t, s.Apply(&data.CallbackOps{StopPeriodic: []string{"p", "unknown"}, StopTask: []string{"t"}}))
	assert.False(t, s.Running("p"))
	assert.False(t, s.Running("t"))

	err = s.Apply(&data.CallbackOps{StartPeriodic: []data.PeriodicRequest{{ID: "bad"}}})
	assert.Error(t, err)
	assert.NoError(t, s.Apply(nil))
}

func TestClose(t *testing.T) {
	s := New(DefaultConfig())
	require.NoError(t, s.StartTask("t", time.Millisecond, func(context.Context) error { return nil }))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Start("p", time.Second, data.NewRaw("p", nil)), ErrClosed)
	assert.False(t, s.Running("t"))
}

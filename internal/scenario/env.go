package scenario

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
)

// #region env

// Env is shared by the guards and hooks of one scenario instance.
type Env struct {
	Target      string
	UserContext map[string]any
}

func (e *Env) clone() *Env {
	return &Env{Target: e.Target, UserContext: maps.Clone(e.UserContext)}
}

// #endregion env

// #region periodic

// Periodic asks the pipeline to resend Item every Period. ID identifies it for cancellation
// and survives Scenario.Clone.
type Periodic struct {
	ID     string
	Period time.Duration
	Item   Item
}

// NewPeriodic returns a periodic spec with a fresh ID.
func NewPeriodic(period time.Duration, it Item) Periodic {
	return Periodic{ID: uuid.New().String(), Period: period, Item: it}
}

// Task is a background function started by the pipeline. Period 0 runs it once.
type Task struct {
	ID     string
	Period time.Duration
	Run    func(ctx context.Context) error
}

// NewTask returns a task spec with a fresh ID.
func NewTask(period time.Duration, run func(ctx context.Context) error) Task {
	return Task{ID: uuid.New().String(), Period: period, Run: run}
}

// #endregion periodic

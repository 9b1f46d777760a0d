package data

import (
	"context"
	"time"
)

// #region hook

// Hook identifies a point of the sending pipeline at which callbacks run.
type Hook int

const (
	// HookBeforeSendingStep1 runs right before sending; pending chains are resolved here.
	HookBeforeSendingStep1 Hook = iota
	// HookBeforeSendingStep2 runs after step1, once the data to send is final.
	HookBeforeSendingStep2
	// HookAfterSending runs right after the data left.
	HookAfterSending
	// HookAfterFeedback runs once feedback has been collected.
	HookAfterFeedback
)

// Hooks lists every hook in pipeline order.
var Hooks = []Hook{HookBeforeSendingStep1, HookBeforeSendingStep2, HookAfterSending, HookAfterFeedback}

func (h Hook) String() string {
	switch h {
	case HookBeforeSendingStep1:
		return "before_sending_step1"
	case HookBeforeSendingStep2:
		return "before_sending_step2"
	case HookAfterSending:
		return "after_sending"
	case HookAfterFeedback:
		return "after_fbk"
	}
	return "unknown"
}

// #endregion hook

// #region callback-ops

// Callback is invoked by the pipeline at its hook. fbk is nil except for HookAfterFeedback.
type Callback func(fbk *Feedback) *CallbackOps

// PeriodicRequest asks the pipeline to resend Data every Period until stopped by ID.
type PeriodicRequest struct {
	ID     string
	Period time.Duration
	Data   *Data
}

// TaskRequest asks the pipeline to run Run in the background, every Period
// when Period > 0, once otherwise.
type TaskRequest struct {
	ID     string
	Period time.Duration
	Run    func(ctx context.Context) error
}

// CallbackOps gathers the side effects a callback requests from the pipeline.
type CallbackOps struct {
	Replace       []*Data
	StartPeriodic []PeriodicRequest
	StopPeriodic  []string
	StartTask     []TaskRequest
	StopTask      []string
	FbkTimeout    *time.Duration
	FbkMode       string
}

// IsEmpty reports whether ops requests nothing.
func (o *CallbackOps) IsEmpty() bool {
	if o == nil {
		return true
	}
	return len(o.Replace) == 0 && len(o.StartPeriodic) == 0 && len(o.StopPeriodic) == 0 &&
		len(o.StartTask) == 0 && len(o.StopTask) == 0 && o.FbkTimeout == nil && o.FbkMode == ""
}

// #endregion callback-ops

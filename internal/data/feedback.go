package data

import (
	"bytes"
	"time"
)

// #region feedback

// FeedbackEntry is one piece of feedback from a target or monitor.
type FeedbackEntry struct {
	Source    string
	Status    int // negative means the source reported a problem
	Content   []byte
	Timestamp time.Time
}

// Feedback aggregates the entries collected after one sending.
type Feedback struct {
	entries []FeedbackEntry
}

// NewFeedback builds a Feedback from entries.
func NewFeedback(entries ...FeedbackEntry) *Feedback {
	return &Feedback{entries: append([]FeedbackEntry(nil), entries...)}
}

// Add appends one entry stamped with the current time.
func (f *Feedback) Add(source string, status int, content []byte) {
	f.entries = append(f.entries, FeedbackEntry{
		Source:    source,
		Status:    status,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// Entries returns a copy of the collected entries.
func (f *Feedback) Entries() []FeedbackEntry {
	if f == nil {
		return nil
	}
	return append([]FeedbackEntry(nil), f.entries...)
}

// Contains reports whether any entry content contains sub. Nil-safe.
func (f *Feedback) Contains(sub string) bool {
	if f == nil {
		return false
	}
	for _, e := range f.entries {
		if bytes.Contains(e.Content, []byte(sub)) {
			return true
		}
	}
	return false
}

// WorstStatus returns the lowest status seen, 0 when empty.
func (f *Feedback) WorstStatus() int {
	if f == nil {
		return 0
	}
	worst := 0
	for _, e := range f.entries {
		if e.Status < worst {
			worst = e.Status
		}
	}
	return worst
}

// #endregion feedback

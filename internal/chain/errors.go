package chain

import (
	"errors"
	"fmt"
	"strings"
)

// #region sentinels

var (
	// ErrConfig marks a malformed request: unknown type, duplicate controller, bad clone.
	ErrConfig = errors.New("chain configuration error")
	// ErrUnrecoverable marks a failed setup or a dmaker that errored or panicked.
	ErrUnrecoverable = errors.New("unrecoverable chain error")
	// ErrHandOver reports a controller that is exhausted for its current input.
	ErrHandOver = errors.New("controller handover")
	// ErrDataInvalid reports a nil result or a missing input.
	ErrDataInvalid = errors.New("invalid data")
	// ErrDataUnusable reports a result flagged unusable by its producer.
	ErrDataUnusable = errors.New("unusable data")
)

// #endregion sentinels

// #region outcome

// OutcomeError is the typed outcome of a failed resolution. Kind is one of the sentinels.
type OutcomeError struct {
	Kind error
	Type string
	Name string
	// Reactivated lists the dmakers reactivated by a handover, yielder first.
	Reactivated []string
	Err         error
}

func (e *OutcomeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Type != "" {
		fmt.Fprintf(&b, " at %s/%s", e.Type, e.Name)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OutcomeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func outcome(kind error, typ, name string, err error) *OutcomeError {
	return &OutcomeError{Kind: kind, Type: typ, Name: name, Err: err}
}

// #endregion outcome

// #region classify

// IsYield reports an expected outcome the caller should retry or fold into
// exhaustion bookkeeping rather than treat as a failure.
func IsYield(err error) bool {
	return errors.Is(err, ErrHandOver) || errors.Is(err, ErrDataInvalid) || errors.Is(err, ErrDataUnusable)
}

// Label is the short outcome name recorded in provenance.
func Label(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrHandOver):
		return "handover"
	case errors.Is(err, ErrDataInvalid):
		return "data_invalid"
	case errors.Is(err, ErrDataUnusable):
		return "data_unusable"
	case errors.Is(err, ErrConfig):
		return "config"
	}
	return "unrecoverable"
}

// #endregion classify

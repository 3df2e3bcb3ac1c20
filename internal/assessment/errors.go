package assessment

import (
	"errors"
	"fmt"
)

var (
	// ErrModelCallFailed marks a transport/provider failure. Retryable at the
	// caller's discretion; the idempotency key keeps retries from
	// double-counting usage.
	ErrModelCallFailed = errors.New("model call failed")
	// ErrResponseUnparseable marks an exhausted repair ladder, terminal for
	// that call.
	ErrResponseUnparseable = errors.New("model response unparseable")
	// ErrDetailUnavailable marks a failed document detail fetch; the affected
	// Level 2 candidate is skipped, not fatal.
	ErrDetailUnavailable = errors.New("document detail unavailable")
	// ErrAssessmentFailed is the terminal failure surfaced when no usable
	// result exists at all.
	ErrAssessmentFailed = errors.New("assessment failed")
)

// StageError attributes a failure to the stage that raised it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "assessment"
}

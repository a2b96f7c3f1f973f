package upload

import (
	"errors"
	"fmt"
)

// ErrBudgetExhausted is wrapped by FatalError when an artifact kept failing
// until its retry budget ran out.
var ErrBudgetExhausted = errors.New("retry budget exhausted")

// ErrAborted is wrapped by FatalError when a sender reported a failure
// that must not be retried.
var ErrAborted = errors.New("upload aborted")

// FatalError reports an artifact that could not be uploaded.
type FatalError struct {
	Path        string
	Destination string
	Receiver    string
	Attempts    int
	Reason      string

	Err error
}

// Error implements error.
func (e *FatalError) Error() string {
	return fmt.Sprintf("uploading %s to %s via %s failed after %d attempt(s): %s",
		e.Path, e.Destination, e.Receiver, e.Attempts, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *FatalError) Unwrap() error {
	return e.Err
}

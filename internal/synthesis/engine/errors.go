package engine

import (
	"errors"
	"fmt"
)

// ErrClientUnavailable marks a generation call that timed out or failed before returning text.
var ErrClientUnavailable = errors.New("generation client unavailable")

// ClientError is returned when the generation client fails before producing any text. It matches
// ErrClientUnavailable unless the caller's own context ended the call, in which case it matches
// only the context error.
type ClientError struct {
	Backend  string
	Err      error
	Canceled bool
}

func (e *ClientError) Error() string {
	if e.Canceled {
		return fmt.Sprintf("synthesis canceled (backend %s): %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%v (backend %s): %v", ErrClientUnavailable, e.Backend, e.Err)
}

func (e *ClientError) Unwrap() []error {
	if e.Canceled {
		return []error{e.Err}
	}
	return []error{ErrClientUnavailable, e.Err}
}

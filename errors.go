package rivulet

import (
	"errors"
	"fmt"
)

// ConnectionError indicates a failure to reach or authenticate with the
// backend. It is returned from Connect. Client.Ping reports reachability
// as a bool and never returns a ConnectionError.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rivulet: connection error (%s): %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// BackendError wraps any backend-signalled failure surfaced from an
// operational method: a command error, an invalid response, or an
// envelope decode failure. Callers may retry on a fresh client.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("rivulet: backend error during %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// TimeoutError is a distinguished BackendError raised when an advisory
// lock cannot be acquired within the caller-supplied timeout. Callers are
// expected to back off and retry rather than hammer the lock.
type TimeoutError struct {
	Lock string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rivulet: timed out acquiring %s", e.Lock)
}

// Is lets errors.Is(err, rivulet.ErrTimeout) match any *TimeoutError. It
// has no effect on errors.As; Client methods return a *TimeoutError
// wrapped inside a *BackendError, so errors.As(err, *BackendError) also
// matches a lock timeout.
func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}

// ErrTimeout is a sentinel usable with errors.Is against any *TimeoutError.
var ErrTimeout = &TimeoutError{}

// ErrResourceExhausted is returned, wrapped in a *BackendError, when a
// configured ResourceGuard rejects a write before it ever reaches the
// backend. It is raised purely client-side; the backend never sees it.
var ErrResourceExhausted = errors.New("rivulet: local resource guard rejected operation")

// ErrEnvelopeCorrupt is wrapped in a *BackendError when a stored envelope
// fails to decode.
var ErrEnvelopeCorrupt = errors.New("rivulet: envelope is corrupt")

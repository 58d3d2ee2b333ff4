package remote

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a path or namespace does not exist on the
// remote. For the archive namespace this is the first-use signal that
// triggers an initialization backup; it must never be conflated with
// transient or fatal failures.
type NotFoundError struct {
	Op  string
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("remote: %s: %s not found", e.Op, e.Ref)
}

// TransientError reports a retryable failure: network errors, timeouts and
// server-side availability problems. Callers wait for the next scheduled
// trigger instead of re-initializing.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError reports an authentication or permission failure. Sync for the
// directory is suspended until the operator reconfigures.
type FatalError struct {
	Op     string
	Status int
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("remote: %s: status %d: %v", e.Op, e.Status, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

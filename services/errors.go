package services

import (
	"errors"
	"time"
)

// Failure classes for the classification pipeline. Transient infrastructure
// failures are retried with exponential backoff; permanent data errors abort
// the current unit and are logged, never retried. Malformed classifier
// responses are tagged so callers can treat them as a no-op.

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as a permanent data error (missing album or
// record). Permanent errors are never retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is marked permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ErrMalformedResponse tags classifier responses that do not match the
// expected schema. Callers log and continue rather than fail.
var ErrMalformedResponse = errors.New("malformed classifier response")

// backoffDelay returns the exponential backoff delay for a 1-based attempt
// counter: base, 2*base, 4*base, ...
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}

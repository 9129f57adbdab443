package errors

import (
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// unretriable is our own marker for errors that must never be requeued, kept
// separate from backoff.PermanentError so callers can mark errors as
// unretriable without committing to the backoff library in their signatures.
type unretriable struct {
	err error
}

func (e unretriable) Error() string {
	return e.err.Error()
}

func (e unretriable) Unwrap() error {
	return e.err
}

// Unretriable returns an error that IsUnretriable reports as permanent. It is
// also a backoff.PermanentError so it stops backoff.Retry loops immediately.
func Unretriable(err error) error {
	return backoff.Permanent(unretriable{err})
}

func IsUnretriable(err error) bool {
	return errors.As(err, &unretriable{}) || isBackoffPermanent(err)
}

func isBackoffPermanent(err error) bool {
	var permErr *backoff.PermanentError
	return errors.As(err, &permErr)
}

// ComputeError is the single normalized failure type for calls to the
// transcoding runner. A transport failure (unreachable, timeout, non-2xx with
// no parseable body) and a structured {success:false, error} response both
// end up here; only the Reason differs.
type ComputeError struct {
	// Reason is always populated and safe to surface in AdRecord.errorMessage.
	Reason string
	// Transport is true when no response body was obtained at all.
	Transport bool

	err error
}

func (e *ComputeError) Error() string {
	if e.Transport {
		return fmt.Sprintf("compute transport error: %s", e.Reason)
	}
	return fmt.Sprintf("compute job failed: %s", e.Reason)
}

func (e *ComputeError) Unwrap() error {
	return e.err
}

// NewTransportError wraps a failure to get any response from the runner.
func NewTransportError(err error) *ComputeError {
	return &ComputeError{Reason: err.Error(), Transport: true, err: err}
}

// NewRunnerError wraps a {success:false} response body from the runner.
func NewRunnerError(reason string) *ComputeError {
	return &ComputeError{Reason: reason}
}

// ComputeReason extracts the human-readable reason from any error, preferring
// the normalized ComputeError reason when present.
func ComputeReason(err error) string {
	var ce *ComputeError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return err.Error()
}

package provider

import (
	"errors"
	"fmt"
)

// ErrAuth is the sentinel for session/authentication failures. Adapters
// wrap it so errors.Is(err, ErrAuth) holds; the orchestrator treats it as
// fatal to the scan.
var ErrAuth = errors.New("provider: authentication failed")

// TransientError wraps an error the adapter believes will clear on retry:
// throttling, timeouts, transient network failures.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError wraps an error that will not clear on retry: permission
// denied, resource not found, malformed request.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsAuth reports whether err is a session/authentication failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// AuthError builds a session-level failure with a cause.
func AuthError(cause string) error {
	return fmt.Errorf("%w: %s", ErrAuth, cause)
}

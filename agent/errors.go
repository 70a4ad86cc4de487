package agent

import (
	"errors"
	"fmt"
)

// ProviderError is a transient provider failure: rate limits, 5xx responses,
// network hiccups. Worth retrying with backoff.
type ProviderError struct {
	err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (retryable): %v", e.err)
}

func (e *ProviderError) Unwrap() error {
	return e.err
}

// Transient wraps an error as a retryable ProviderError.
func Transient(err error) error {
	return &ProviderError{err: err}
}

// ProviderFatalError is a permanent provider failure: bad credentials,
// unknown provider, malformed request. Retrying cannot help.
type ProviderFatalError struct {
	err error
}

func (e *ProviderFatalError) Error() string {
	return fmt.Sprintf("provider error (fatal): %v", e.err)
}

func (e *ProviderFatalError) Unwrap() error {
	return e.err
}

// Fatal wraps an error as a non-retryable ProviderFatalError.
func Fatal(err error) error {
	return &ProviderFatalError{err: err}
}

// IsRetryable reports whether the invocation may succeed if repeated. Only
// errors explicitly classified as ProviderError qualify; anything
// unclassified is treated as fatal so unknown failures don't burn attempts.
func IsRetryable(err error) bool {
	var transient *ProviderError
	return errors.As(err, &transient)
}

// IsFatal reports whether the error is a classified permanent failure.
func IsFatal(err error) bool {
	var fatal *ProviderFatalError
	return errors.As(err, &fatal)
}

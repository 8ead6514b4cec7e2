// Package apperrors holds the sentinel errors shared by every layer and the
// Retryable/Fatal wrappers that decide whether a JetStream delivery is
// redelivered or dead lettered.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("validation failed")
	ErrDatabase   = errors.New("database error")
	ErrNATS       = errors.New("nats communication error")
	ErrBadRequest = errors.New("bad request")
	ErrDuplicate  = errors.New("duplicate resource")
	ErrConflict   = errors.New("resource conflict")
	ErrTimeout    = errors.New("operation timeout")

	// ErrUnauthorized means no valid credentials; ErrForbidden means valid
	// credentials for someone who does not own the resource.
	ErrUnauthorized = errors.New("unauthorized access")
	ErrForbidden    = errors.New("forbidden")
	ErrRateLimited  = errors.New("rate limited")

	// ErrAgentExecution is any failure of the agent other than a timeout.
	ErrAgentExecution = errors.New("agent execution failed")
	// ErrUpstream is a failed call to the LLM provider or the WhatsApp gateway.
	ErrUpstream = errors.New("upstream service error")
)

// RetryableError marks an error worth redelivering.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("retryable: %v", e.Err) }

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marks an error that redelivery will not fix.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }

// NewRetryable wraps err as retryable with a formatted message prefix.
func NewRetryable(err error, message string, args ...interface{}) error {
	return &RetryableError{Err: wrap(err, message, args...)}
}

// NewFatal wraps err as fatal with a formatted message prefix.
func NewFatal(err error, message string, args ...interface{}) error {
	return &FatalError{Err: wrap(err, message, args...)}
}

func wrap(err error, message string, args ...interface{}) error {
	return fmt.Errorf(message+": %w", append(args, err)...)
}

// IsRetryable reports whether err is or wraps a RetryableError.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// IsNotFoundError reports whether err wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err comes from infrastructure that may recover
// on its own: the database or NATS.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDatabase) || errors.Is(err, ErrNATS)
}

// Classify wraps an unclassified err as retryable when it is transient and
// as fatal otherwise. Errors already wrapped as either kind are returned as is.
func Classify(err error, message string, args ...interface{}) error {
	switch {
	case err == nil:
		return nil
	case IsRetryable(err), IsFatal(err):
		return err
	case IsTransient(err):
		return NewRetryable(err, message, args...)
	default:
		return NewFatal(err, message, args...)
	}
}

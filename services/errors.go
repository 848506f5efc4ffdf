package services

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the core services. The Fiber error handler maps
// these to HTTP statuses; job runners map them to retry decisions
// (ExternalServiceError is retryable, the rest are not).

// ValidationError rejects bad input shape before any side effect.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError rejects a state-machine move not in the transition
// table. No mutation happens; the caller must not retry with the same input.
type InvalidTransitionError struct {
	Entity    string
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid transition from %q to %q", e.Entity, e.Current, e.Requested)
}

// AuthError covers signature and token failures. Webhook ledger rows are
// never marked completed on an AuthError.
type AuthError struct {
	Msg string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// ExternalServiceError is a failed provider call. The owning entity is left
// in its pre-call or explicit-failure state, never partially updated.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: request failed (status %d): %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: request failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ConflictError is a uniqueness violation. Webhook ingestion treats it as
// success-no-op (duplicate delivery), not as a provider-visible error.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}

func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func IsExternal(err error) bool {
	var ee *ExternalServiceError
	return errors.As(err, &ee)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RetryOnConflict runs fn up to attempts times, calling reset before each
// retry after a ConflictError. Any other outcome stops the loop. Used where
// an optimistically assigned value can collide on a unique index, like the
// dispute number sequence.
func RetryOnConflict(attempts int, reset func(), fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !IsConflict(err) {
			return err
		}
		if reset != nil {
			reset()
		}
	}
	return err
}

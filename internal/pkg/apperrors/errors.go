package apperrors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	// ErrPolicyReject covers risk-gate denials and safety-mode downgrades.
	// These are expected outcomes, recorded as terminal order states and
	// never retried.
	ErrPolicyReject ErrorType = "POLICY_REJECT"

	// ErrTransient covers exchange timeouts, RPC errors and queue hiccups.
	// Retried with bounded backoff by the job runner.
	ErrTransient ErrorType = "TRANSIENT"

	// ErrDataIntegrity covers unknown bots, malformed signals and missing
	// fills. Fatal for the single job, never retried.
	ErrDataIntegrity ErrorType = "DATA_INTEGRITY"

	// ErrSafetyViolation marks an attempted live operation without a
	// confirmed live mode. Should be impossible by construction.
	ErrSafetyViolation ErrorType = "SAFETY_VIOLATION"

	ErrInternal ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the worker.
type AppError struct {
	Type    ErrorType `json:"code"`
	Message string    `json:"message"`
	Reason  string    `json:"reason,omitempty"` // machine-readable, e.g. "cooldown_active"
	Cause   error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: msg,
		Cause:   cause,
	}
}

func NewPolicyReject(reason, msg string) *AppError {
	return &AppError{Type: ErrPolicyReject, Message: msg, Reason: reason}
}

func NewTransient(msg string, cause error) *AppError {
	return New(ErrTransient, msg, cause)
}

func NewDataIntegrity(msg string, cause error) *AppError {
	return New(ErrDataIntegrity, msg, cause)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// IsRetryable reports whether the job runner should re-deliver the job.
// Policy rejections and data-integrity failures are terminal for the job;
// everything transient or unknown gets the generic retry path.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Type {
	case ErrPolicyReject, ErrDataIntegrity, ErrSafetyViolation:
		return false
	}
	return true
}

// TypeOf returns the taxonomy class of an error, ErrInternal for plain errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrInternal
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrStorage            = New("STORAGE_ERROR", http.StatusInternalServerError, "storage operation failed")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusInternalServerError, "cache miss")
)

// Quota and registration lifecycle errors.
var (
	ErrQuotaNotFound           = New("QUOTA_NOT_FOUND", http.StatusNotFound, "training quota not found")
	ErrAudienceMismatch        = New("AUDIENCE_MISMATCH", http.StatusForbidden, "quota is not open to this role")
	ErrRegistrationClosed      = New("REGISTRATION_CLOSED", http.StatusConflict, "registration is closed")
	ErrQuotaFull               = New("QUOTA_FULL", http.StatusConflict, "quota is full")
	ErrYearlyCapReached        = New("YEARLY_CAP_REACHED", http.StatusConflict, "yearly registration limit reached")
	ErrAlreadyRegistered       = New("ALREADY_REGISTERED", http.StatusConflict, "already registered for this quota")
	ErrInvalidStateForCancel   = New("INVALID_STATE_FOR_CANCEL", http.StatusConflict, "registration cannot be cancelled in its current state")
	ErrInvalidStateTransition  = New("INVALID_STATE_TRANSITION", http.StatusConflict, "registration cannot move to the requested state")
	ErrCapacityBelowRegistered = New("CAPACITY_BELOW_REGISTERED", http.StatusConflict, "capacity cannot drop below the registered count")
	ErrHasActiveRegistrations  = New("HAS_ACTIVE_REGISTRATIONS", http.StatusConflict, "quota still has active registrations")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

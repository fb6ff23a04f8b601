package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeSessionAbsent      ErrorType = "session_absent"
	ErrorTypeSessionExpired     ErrorType = "session_expired"
	ErrorTypeClaimDecode        ErrorType = "claim_decode"
	ErrorTypeGroupLookup        ErrorType = "group_lookup"
	ErrorTypeCredentialsInvalid ErrorType = "credentials_invalid"
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeInternal           ErrorType = "internal"
	ErrorTypeExternal           ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. Compare with errors.Is; never mutate them.

var (
	// Session errors
	ErrSessionAbsent  = NewDomainError(ErrorTypeSessionAbsent, "no active session", nil)
	ErrSessionExpired = NewDomainError(ErrorTypeSessionExpired, "session expired", nil)

	// Role derivation errors (recoverable, absorbed by role resolution)
	ErrClaimDecode = NewDomainError(ErrorTypeClaimDecode, "role claim could not be decoded", nil)
	ErrGroupLookup = NewDomainError(ErrorTypeGroupLookup, "group membership lookup failed", nil)

	// Sign-in errors
	ErrCredentialsInvalid = NewDomainError(ErrorTypeCredentialsInvalid, "invalid credentials", nil)

	// Validation Errors
	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)

	// Internal Errors
	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)

	// External identity provider errors
	ErrIdentityProviderUnavailable = NewDomainError(ErrorTypeExternal, "identity provider unavailable", nil)
)

// Error type checking helper functions

// IsSessionAbsentError checks if an error reports that no session exists
func IsSessionAbsentError(err error) bool {
	return GetErrorType(err) == ErrorTypeSessionAbsent
}

// IsSessionExpiredError checks if an error reports a terminal session expiry
func IsSessionExpiredError(err error) bool {
	return GetErrorType(err) == ErrorTypeSessionExpired
}

// IsClaimDecodeError checks if an error is a claim decode error
func IsClaimDecodeError(err error) bool {
	return GetErrorType(err) == ErrorTypeClaimDecode
}

// IsGroupLookupError checks if an error is a group lookup error
func IsGroupLookupError(err error) bool {
	return GetErrorType(err) == ErrorTypeGroupLookup
}

// IsCredentialsInvalidError checks if an error is a rejected sign-in
func IsCredentialsInvalidError(err error) bool {
	return GetErrorType(err) == ErrorTypeCredentialsInvalid
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsExternalError checks if an error is an identity provider error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an identity provider error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}

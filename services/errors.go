package services

import (
	"errors"
	"fmt"
)

// ErrorType categorizes orchestration failures. Callers branch on the type,
// never on message text: rate-limit and budget rejections need different
// remediation ("try again later" vs "upgrade your plan"), and the two terminal
// kinds ("nothing worked" vs "ran out of time") are distinct contracts.
type ErrorType string

const (
	ErrorTypeConfiguration    ErrorType = "configuration"
	ErrorTypeRateLimit        ErrorType = "rate_limit"
	ErrorTypeBudget           ErrorType = "budget"
	ErrorTypeInvalidRequest   ErrorType = "invalid_request"
	ErrorTypeAllProvidersDown ErrorType = "all_providers_unavailable"
	ErrorTypeDeadlineExceeded ErrorType = "deadline_exceeded"
	ErrorTypeInternal         ErrorType = "internal"
)

// DomainError is a structured error carrying a type and optional context.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail attaches a key/value pair to the error.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error.
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// NewConfigurationError reports a fatal startup-time misconfiguration, such as
// a service type with no provider chain. Never returned per-request.
func NewConfigurationError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeConfiguration, message, err)
}

// NewRateLimitError reports an admission rejection on the hourly window.
func NewRateLimitError(message string) *DomainError {
	return NewDomainError(ErrorTypeRateLimit, message, nil)
}

// NewBudgetError reports an admission rejection on the monthly allowance.
func NewBudgetError(message string) *DomainError {
	return NewDomainError(ErrorTypeBudget, message, nil)
}

// NewInvalidRequestError reports a caller error that would fail identically
// against every provider, so the fallback chain is not exhausted for it.
func NewInvalidRequestError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeInvalidRequest, message, err)
}

// NewAllProvidersUnavailableError is the terminal failure after the whole
// fallback chain has been exhausted.
func NewAllProvidersUnavailableError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeAllProvidersDown, message, err)
}

// NewDeadlineExceededError reports that the request's deadline elapsed before
// any provider succeeded.
func NewDeadlineExceededError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeDeadlineExceeded, message, err)
}

// NewInternalError reports an unexpected infrastructure failure.
func NewInternalError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// TypeOf returns the DomainError type of err, or ErrorTypeInternal when err is
// not a DomainError.
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ErrorTypeInternal
}

// IsType reports whether err is a DomainError of the given type.
func IsType(err error, t ErrorType) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Type == t
}

package domain

import (
	"fmt"
	"time"
)

// ExchangeError represents a standardized error response
type ExchangeError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	cause     error
}

// Error implements the error interface
func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error, if any
func (e *ExchangeError) Unwrap() error {
	return e.cause
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput         = "INVALID_INPUT"
	ErrInvalidConfiguration = "INVALID_CONFIGURATION"
	ErrHLAParsing           = "HLA_PARSING_ERROR"
	ErrSolver               = "SOLVER_ERROR"
	ErrStorage              = "STORAGE_ERROR"
	ErrCache                = "CACHE_ERROR"
	ErrRateLimit            = "RATE_LIMIT_EXCEEDED"
	ErrInternalServer       = "INTERNAL_SERVER_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewExchangeError creates a new ExchangeError with timestamp
func NewExchangeError(code, message, details, requestID string) *ExchangeError {
	return &ExchangeError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// WrapExchangeError creates an ExchangeError that keeps err in its chain
func WrapExchangeError(code, message string, err error, requestID string) *ExchangeError {
	e := NewExchangeError(code, message, err.Error(), requestID)
	e.cause = err
	return e
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

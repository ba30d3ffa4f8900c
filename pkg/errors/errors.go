package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeAlreadyRunning ErrorType = "already_running"
	ErrorTypeNotRunning     ErrorType = "not_running"
	ErrorTypeBusy           ErrorType = "busy"
	ErrorTypeLaunch         ErrorType = "launch_failure"
	ErrorTypeDownload       ErrorType = "download_failed"
	ErrorTypeUnavailable    ErrorType = "unavailable"
	ErrorTypeIO             ErrorType = "io"
	ErrorTypeIncomplete     ErrorType = "incomplete"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeCancelled      ErrorType = "cancelled"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Request errors. Never retried.
func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

// NewInvalidNameError is the validation error for instance names that could
// escape the instance root or are otherwise malformed.
func NewInvalidNameError(name string, reason string) *DomainError {
	return NewDomainError(ErrorTypeValidation, "invalid name: "+reason, nil).WithContext("name", name)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// Run state errors
func NewAlreadyRunningError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeAlreadyRunning, message, cause)
}

func NewNotRunningError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotRunning, message, cause)
}

func NewBusyError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeBusy, message, cause)
}

func NewLaunchError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeLaunch, message, cause)
}

// Remote collaborator errors
func NewDownloadError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDownload, message, cause)
}

func NewUnavailableError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeUnavailable, message, cause)
}

// System errors
func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewIncompleteError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIncomplete, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// TypeOf returns the type of the outermost DomainError in the chain,
// or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ErrorTypeInternal
}

// MessageOf returns the message of the outermost DomainError without its
// type prefix and cause, or err.Error() for foreign errors.
func MessageOf(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

// Error checking helpers
func IsValidationError(err error) bool     { return isType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool       { return isType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool       { return isType(err, ErrorTypeConflict) }
func IsAlreadyRunningError(err error) bool { return isType(err, ErrorTypeAlreadyRunning) }
func IsNotRunningError(err error) bool     { return isType(err, ErrorTypeNotRunning) }
func IsBusyError(err error) bool           { return isType(err, ErrorTypeBusy) }
func IsLaunchError(err error) bool         { return isType(err, ErrorTypeLaunch) }
func IsDownloadError(err error) bool       { return isType(err, ErrorTypeDownload) }
func IsUnavailableError(err error) bool    { return isType(err, ErrorTypeUnavailable) }
func IsIOError(err error) bool             { return isType(err, ErrorTypeIO) }
func IsIncompleteError(err error) bool     { return isType(err, ErrorTypeIncomplete) }
func IsTimeoutError(err error) bool        { return isType(err, ErrorTypeTimeout) }
func IsInternalError(err error) bool       { return isType(err, ErrorTypeInternal) }
func IsCancelledError(err error) bool      { return isType(err, ErrorTypeCancelled) }

// Error aggregation for bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}

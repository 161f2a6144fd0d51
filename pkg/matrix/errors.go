package matrix

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and reporting logic.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates malformed or incomplete matrix input.
	// It is fatal and never retried.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassInvalid indicates the package recipe rejected a build configuration.
	// The job is skipped and reported, the run continues.
	ErrorClassInvalid ErrorClass = "invalid"

	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: remote timeouts, registry hiccups during upload.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable execution error.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error represents a classified error with context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Dimension is the axis that caused the error, if applicable.
	Dimension string `json:"dimension,omitempty"`

	// Job is the job ID that caused the error, if applicable.
	Job string `json:"job,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Dimension != "" {
		msg += fmt.Sprintf(" (dimension=%s)", e.Dimension)
	}
	if e.Job != "" {
		msg += fmt.Sprintf(" (job=%s)", e.Job)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassConfiguration,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewInvalidConfigurationError creates an error for a configuration the recipe refuses to build.
func NewInvalidConfigurationError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassInvalid,
		Message: message,
		Code:    ErrCodeInvalidConfiguration,
		Err:     err,
	}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithDimension adds dimension context to an error.
func (e *Error) WithDimension(name string) *Error {
	e.Dimension = name
	return e
}

// WithJob adds job context to an error.
func (e *Error) WithJob(id string) *Error {
	e.Job = id
	return e
}

// WithCode sets the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsConfigurationError returns true if the error is classified as a configuration error.
func IsConfigurationError(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConfiguration
}

// IsInvalidConfiguration returns true if a recipe rejected the build configuration.
func IsInvalidConfiguration(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassInvalid
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassTransient
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassPermanent
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// Common error codes.
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeMissingReference     = "MISSING_REFERENCE"
	ErrCodeEmptyDimension       = "EMPTY_DIMENSION"
	ErrCodePageOutOfRange       = "PAGE_OUT_OF_RANGE"
	ErrCodeExclusionFailed      = "EXCLUSION_FAILED"
	ErrCodeInvalidConfiguration = "INVALID_CONFIGURATION"
	ErrCodeBuildFailed          = "BUILD_FAILED"
	ErrCodeUploadFailed         = "UPLOAD_FAILED"
)

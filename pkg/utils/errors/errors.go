package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of an error
type ErrorType uint

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeInvalidArgument represents an invalid argument error
	ErrorTypeInvalidArgument
	// ErrorTypeInvalidConfiguration represents simulation parameters outside their domain
	ErrorTypeInvalidConfiguration
	// ErrorTypeEmptyRun represents aggregation over a run with no samples
	ErrorTypeEmptyRun
	// ErrorTypeNotFound represents a not found error
	ErrorTypeNotFound
	// ErrorTypeUnavailable represents a dependency that cannot take requests right now
	ErrorTypeUnavailable
	// ErrorTypeTimeout represents a timeout error
	ErrorTypeTimeout
	// ErrorTypeInternal represents an internal error
	ErrorTypeInternal
	// ErrorTypeResourceExhausted represents a resource exhausted error
	ErrorTypeResourceExhausted
)

// String returns a short name for the error type
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeInvalidArgument:
		return "invalid_argument"
	case ErrorTypeInvalidConfiguration:
		return "invalid_configuration"
	case ErrorTypeEmptyRun:
		return "empty_run"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeUnavailable:
		return "unavailable"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeInternal:
		return "internal"
	case ErrorTypeResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an AppError against the sentinel of its type
func (e *AppError) Is(target error) bool {
	if t, ok := sentinels[e.Type]; ok {
		return t == target
	}
	return false
}

// Common error sentinels. Any AppError of the matching type satisfies errors.Is.
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEmptyRun             = errors.New("empty run")
	ErrNotFound             = errors.New("not found")
	ErrUnavailable          = errors.New("service unavailable")
	ErrTimeout              = errors.New("timeout")
	ErrInternal             = errors.New("internal error")
	ErrResourceExhausted    = errors.New("resource exhausted")
)

var sentinels = map[ErrorType]error{
	ErrorTypeInvalidArgument:      ErrInvalidArgument,
	ErrorTypeInvalidConfiguration: ErrInvalidConfiguration,
	ErrorTypeEmptyRun:             ErrEmptyRun,
	ErrorTypeNotFound:             ErrNotFound,
	ErrorTypeUnavailable:          ErrUnavailable,
	ErrorTypeTimeout:              ErrTimeout,
	ErrorTypeInternal:             ErrInternal,
	ErrorTypeResourceExhausted:    ErrResourceExhausted,
}

// New creates a new error with the given message
func New(message string) error {
	return &AppError{
		Type:    ErrorTypeUnknown,
		Message: message,
	}
}

// Newf creates a new error with the given format and arguments
func Newf(format string, args ...interface{}) error {
	return New(fmt.Sprintf(format, args...))
}

// Wrap wraps an error with a message, keeping the type of the wrapped AppError
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:    TypeOf(err),
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithType returns err tagged with the given type
func WithType(err error, errType ErrorType) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:    errType,
		Message: err.Error(),
	}
}

// TypeOf returns the type of the first AppError in err's chain
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err or any of the errors in its chain is target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func typed(t ErrorType, format string, args ...interface{}) error {
	return &AppError{
		Type:    t,
		Message: fmt.Sprintf(format, args...),
	}
}

// InvalidArgument creates a new InvalidArgument error
func InvalidArgument(format string, args ...interface{}) error {
	return typed(ErrorTypeInvalidArgument, format, args...)
}

// InvalidConfiguration creates a new InvalidConfiguration error
func InvalidConfiguration(format string, args ...interface{}) error {
	return typed(ErrorTypeInvalidConfiguration, format, args...)
}

// EmptyRun creates a new EmptyRun error
func EmptyRun(format string, args ...interface{}) error {
	return typed(ErrorTypeEmptyRun, format, args...)
}

// NotFound creates a new NotFound error
func NotFound(format string, args ...interface{}) error {
	return typed(ErrorTypeNotFound, format, args...)
}

// Unavailable creates a new Unavailable error
func Unavailable(format string, args ...interface{}) error {
	return typed(ErrorTypeUnavailable, format, args...)
}

// Timeout creates a new Timeout error
func Timeout(format string, args ...interface{}) error {
	return typed(ErrorTypeTimeout, format, args...)
}

// Internal creates a new Internal error
func Internal(format string, args ...interface{}) error {
	return typed(ErrorTypeInternal, format, args...)
}

// ResourceExhausted creates a new ResourceExhausted error
func ResourceExhausted(format string, args ...interface{}) error {
	return typed(ErrorTypeResourceExhausted, format, args...)
}

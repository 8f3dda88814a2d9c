package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures the engine knows how to recover from
type ErrorType string

const (
	ErrorTypeCodec        ErrorType = "codec"
	ErrorTypeCorruptState ErrorType = "corrupt_state"
	ErrorTypeIO           ErrorType = "io"
	ErrorTypeStorage      ErrorType = "storage"
	ErrorTypeCancelled    ErrorType = "cancelled"
	ErrorTypeUnknown      ErrorType = "unknown"
)

var (
	// ErrCorruptState is returned when persisted progress cannot be parsed or fails validation
	ErrCorruptState = errors.New("corrupt checkpoint state")

	// ErrAborted is returned by blocking waits that gave up because a stop was requested
	ErrAborted = errors.New("aborted")
)

// Error carries the failure type together with the operation and file involved
type Error struct {
	Type ErrorType
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s error during %s (%s): %v", e.Type, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s error during %s: %v", e.Type, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a typed error
func New(errorType ErrorType, op, path string, err error) *Error {
	return &Error{Type: errorType, Op: op, Path: path, Err: err}
}

// Codec wraps a failure reading region data
func Codec(op, path string, err error) *Error {
	return New(ErrorTypeCodec, op, path, err)
}

// Storage wraps a failure persisting or removing state
func Storage(op, path string, err error) *Error {
	return New(ErrorTypeStorage, op, path, err)
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type
	}
	if errors.Is(err, ErrCorruptState) {
		return ErrorTypeCorruptState
	}
	if errors.Is(err, ErrAborted) {
		return ErrorTypeCancelled
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeStorage, ErrorTypeIO:
		return true
	case ErrorTypeCodec, ErrorTypeCorruptState, ErrorTypeCancelled:
		return false
	default:
		return false
	}
}

// Is and As re-export the standard helpers so callers need a single errors import
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

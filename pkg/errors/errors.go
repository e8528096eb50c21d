// Package errors classifies conversion failures into recoverable, invalid and fatal
// conditions so the orchestrator can decide whether to skip, fall back or abort.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorRecoverable is handled locally: the failing unit is skipped and processing continues
	ErrorRecoverable ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal aborts the current item (and by default the run)
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorRecoverable:
		return "recoverable"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Geometry errors; the figure is skipped
	ErrGeometryMissing = errors.New("geometry missing")
	ErrGeometryCorrupt = errors.New("geometry corrupted")

	// Volume errors; the item cannot be exported
	ErrVolumeResolve    = errors.New("volume resolution failed")
	ErrTooManyInstances = errors.New("too many instances for uint8 labels")

	// Input errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidMeta   = errors.New("invalid project meta")
	ErrUnsupported   = errors.New("unsupported format")

	// Remote I/O
	ErrRemoteUnavailable = errors.New("remote storage unavailable")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClass(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapRecoverable wraps an error that the caller may skip past
func WrapRecoverable(err error, component, method, action string) error {
	return wrapClass(ErrorRecoverable, err, component, method, action)
}

// WrapInvalid wraps an error caused by invalid input
func WrapInvalid(err error, component, method, action string) error {
	return wrapClass(ErrorInvalid, err, component, method, action)
}

// WrapFatal wraps an error that must abort the item
func WrapFatal(err error, component, method, action string) error {
	return wrapClass(ErrorFatal, err, component, method, action)
}

// Classify returns the error class for an error. Unclassified errors are fatal:
// nothing is swallowed unless a component explicitly marked it recoverable.
func Classify(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	switch {
	case errors.Is(err, ErrGeometryMissing), errors.Is(err, ErrGeometryCorrupt):
		return ErrorRecoverable
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrInvalidMeta):
		return ErrorInvalid
	}
	return ErrorFatal
}

// IsRecoverable checks if an error can be handled by skipping the failing unit
func IsRecoverable(err error) bool {
	return err != nil && Classify(err) == ErrorRecoverable
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	return err != nil && Classify(err) == ErrorFatal
}

// IsTransient reports whether a remote I/O error is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRemoteUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection reset", "temporary", "unavailable", "too many requests"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// RetryConfig defines configuration for retrying remote operations
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the retry policy used for remote fetch and upload
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	return IsTransient(err)
}

// Do runs op until it succeeds, returns a non-transient error, or retries run out.
func (rc RetryConfig) Do(ctx context.Context, op func() error) error {
	delay := rc.InitialDelay
	for attempt := 0; ; attempt++ {
		err := op()
		if !rc.ShouldRetry(err, attempt) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * rc.BackoffFactor)
		if delay > rc.MaxDelay {
			delay = rc.MaxDelay
		}
	}
}

package framework

import (
	"errors"
	"fmt"

	"github.com/cafex/cafex/framework/wait"
)

// Sentinel errors for framework operations
var (
	// ErrInvalidArgument indicates a missing or malformed argument
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates that a remote resource, key or element was not found
	ErrNotFound = errors.New("not found")

	// ErrUnexpectedStatus indicates that a service answered with an unexpected status
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrTimeout indicates that a polled condition was not met in time
	ErrTimeout = wait.ErrTimeout

	// ErrUnsupported indicates an operation the selected backend does not offer
	ErrUnsupported = errors.New("unsupported")

	// ErrNotConnected indicates use of a closed or never opened connection
	ErrNotConnected = errors.New("not connected")

	// ErrCompareMismatch indicates that two result sets differ
	ErrCompareMismatch = errors.New("result sets differ")
)

// PrerequisiteError represents an error when checking prerequisites
type PrerequisiteError struct {
	Component string
	Err       error
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("prerequisite check failed for %s: %v", e.Component, e.Err)
}

func (e *PrerequisiteError) Unwrap() error {
	return e.Err
}

// NewPrerequisiteError creates a new PrerequisiteError
func NewPrerequisiteError(component string, err error) *PrerequisiteError {
	return &PrerequisiteError{
		Component: component,
		Err:       err,
	}
}

// CleanupError represents errors during cleanup operations
type CleanupError struct {
	Phase string
	Errs  []error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup failed during %s phase: %v", e.Phase, errors.Join(e.Errs...))
}

func (e *CleanupError) Unwrap() error {
	return errors.Join(e.Errs...)
}

// NewCleanupError creates a new CleanupError
func NewCleanupError(phase string, errs ...error) *CleanupError {
	return &CleanupError{
		Phase: phase,
		Errs:  errs,
	}
}

// TimeoutError represents a timeout during an operation
type TimeoutError struct {
	Operation string
	Duration  string
	Details   string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timeout after %s waiting for %s", e.Duration, e.Operation)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(operation, duration, details string) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
		Details:   details,
	}
}

// IsNotFound returns true if the error indicates a resource was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTimeout returns true if the error is a timeout error from the framework
// or from any facade polling through the wait package
func IsTimeout(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrTimeout)
}

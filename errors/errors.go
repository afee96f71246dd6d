// Package errors provides standardized error handling for the control
// loop. It defines the error taxonomy shared by the pipeline, executor,
// command subsystem and adapters, plus classification helpers used to
// decide whether a failure is retried, rejected or treated as fatal.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Class represents the classification of errors for handling purposes.
type Class int

const (
	// ClassTransient represents temporary errors that may be retried.
	ClassTransient Class = iota
	// ClassInvalid represents errors due to invalid input or configuration.
	ClassInvalid
	// ClassFatal represents unrecoverable errors that should stop processing.
	ClassFatal
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for the control-loop taxonomy.
var (
	// Adapter and executor connectivity.
	ErrNotConnected      = errors.New("not connected to legacy system")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Command validation and lifecycle.
	ErrPrerequisiteNotMet = errors.New("command prerequisites not satisfied")
	ErrValueOutOfEnvelope = errors.New("value outside safety envelope")
	ErrNoRollbackData     = errors.New("no rollback data captured")
	ErrNothingToUndo      = errors.New("no commands to undo")
	ErrNothingToRedo      = errors.New("no commands to redo")
	ErrCommandFailed      = errors.New("command execution failed")
	ErrUndoFailed         = errors.New("command undo failed")
	ErrNoCapableSystem    = errors.New("no capable system for command")
	ErrUnknownTarget      = errors.New("no mapping for command target")

	// Analysis.
	ErrUnknownScenario = errors.New("no strategy registered for scenario")
	ErrNoSensorData    = errors.New("no sensor data available")

	// Pipeline.
	ErrStageFailed        = errors.New("pipeline stage failed")
	ErrPipelineNotFound   = errors.New("pipeline not registered")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Executor.
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrDispatchFailed = errors.New("command dispatch failed")

	// Configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification.
type ClassifiedError struct {
	Class     Class
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassTransient
	}

	if errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "network", "temporary", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks if an error is due to invalid input: out-of-envelope
// values, unsatisfied prerequisites, unregistered scenarios. Invalid
// errors are never retried.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassInvalid
	}

	return errors.Is(err, ErrValueOutOfEnvelope) ||
		errors.Is(err, ErrPrerequisiteNotMet) ||
		errors.Is(err, ErrUnknownScenario) ||
		errors.Is(err, ErrUnknownTarget) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsFatal checks if an error is fatal and should stop processing.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassFatal
	}

	return errors.Is(err, ErrMissingConfig)
}

// Classify returns the error class for an error. Unknown errors default
// to transient so the retry machinery gets a chance at them.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassTransient
	case IsInvalid(err):
		return ClassInvalid
	case IsFatal(err):
		return ClassFatal
	default:
		return ClassTransient
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func newClassified(class Class, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ClassTransient, wrapped, component, method, wrapped.Error())
}

// WrapInvalid wraps an error as invalid with context.
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ClassInvalid, wrapped, component, method, wrapped.Error())
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ClassFatal, wrapped, component, method, wrapped.Error())
}

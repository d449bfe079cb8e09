package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassPermanent indicates a non-recoverable error. Every error this
	// package produces is permanent; retrying belongs to the orchestration
	// layer above it.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassCanceled indicates work that was not attempted because the
	// session was canceled or an earlier part failed.
	ErrorClassCanceled ErrorClass = "canceled"
)

// Error codes.
const (
	ErrCodeCyclicDependency             = "CYCLIC_DEPENDENCY"
	ErrCodeUnknownDependency            = "UNKNOWN_DEPENDENCY"
	ErrCodeDuplicatePart                = "DUPLICATE_PART"
	ErrCodeEnvironmentProbe             = "ENVIRONMENT_PROBE_ERROR"
	ErrCodeMissingDependencyEnvironment = "MISSING_DEPENDENCY_ENVIRONMENT"
	ErrCodeValidation                   = "VALIDATION_ERROR"
	ErrCodeBuildStepFailed              = "BUILD_STEP_FAILED"
	ErrCodeInternal                     = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. They match any EngineError with the same class
// and code.
var (
	ErrCyclicDependency             = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeCyclicDependency}
	ErrUnknownDependency            = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnknownDependency}
	ErrEnvironmentProbe             = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeEnvironmentProbe}
	ErrMissingDependencyEnvironment = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeMissingDependencyEnvironment}
)

// EngineError represents a classified error with the context needed to act
// on it without re-running with verbose tracing.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Part is the part being processed when the error occurred.
	Part string `json:"part,omitempty"`

	// Dependency is the dependency name involved, if any.
	Dependency string `json:"dependency,omitempty"`

	// Path is the probed filesystem path, if any.
	Path string `json:"path,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var ctx []string
	if e.Part != "" {
		ctx = append(ctx, "part="+e.Part)
	}
	if e.Dependency != "" {
		ctx = append(ctx, "dependency="+e.Dependency)
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}

	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if len(ctx) > 0 {
		msg += " (" + strings.Join(ctx, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewCanceledError creates an error for work that was never attempted.
func NewCanceledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassCanceled,
		Message: message,
		Err:     err,
	}
}

// NewCyclicDependencyError reports a dependency cycle. cycle lists the parts
// along the cycle with the first part repeated at the end.
func NewCyclicDependencyError(cycle []string) *EngineError {
	return NewPermanentError(
		fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil,
	).WithCode(ErrCodeCyclicDependency).WithPart(cycle[0]).WithDetail("cycle", cycle)
}

// NewUnknownDependencyError reports an "after" name that matches no part.
func NewUnknownDependencyError(part, dependency string) *EngineError {
	return NewPermanentError(
		fmt.Sprintf("part %s depends on undefined part %s", part, dependency), nil,
	).WithCode(ErrCodeUnknownDependency).WithPart(part).WithDependency(dependency)
}

// NewProbeError reports a filesystem failure while probing for an environment.
func NewProbeError(part, path string, err error) *EngineError {
	return NewPermanentError("failed to probe build environment", err).
		WithCode(ErrCodeEnvironmentProbe).WithPart(part).WithPath(path)
}

// NewMissingDependencyEnvironmentError reports a dependency whose install
// root cannot be resolved.
func NewMissingDependencyEnvironmentError(part, dependency string) *EngineError {
	return NewPermanentError(
		fmt.Sprintf("cannot resolve install directory of dependency %s", dependency), nil,
	).WithCode(ErrCodeMissingDependencyEnvironment).WithPart(part).WithDependency(dependency)
}

// WithPart adds part context to an error.
func (e *EngineError) WithPart(part string) *EngineError {
	e.Part = part
	return e
}

// WithDependency adds dependency context to an error.
func (e *EngineError) WithDependency(dependency string) *EngineError {
	e.Dependency = dependency
	return e
}

// WithPath adds the probed path to an error.
func (e *EngineError) WithPath(path string) *EngineError {
	e.Path = path
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsCanceled returns true if the error is classified as canceled.
func IsCanceled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassCanceled
	}
	return false
}

// ErrorCode returns the code of the first EngineError in err's chain.
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// CycleOf returns the cycle carried by a cyclic dependency error.
func CycleOf(err error) []string {
	var e *EngineError
	if errors.As(err, &e) && e.Code == ErrCodeCyclicDependency {
		if cycle, ok := e.Details["cycle"].([]string); ok {
			return cycle
		}
	}
	return nil
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

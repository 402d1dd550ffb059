package engine

import (
	"errors"
	"fmt"
)

// ErrorClass groups errors by who has to act on them.
type ErrorClass string

const (
	// ErrorClassConfiguration marks contradictory or missing user input.
	// Examples: TLS with a CA file over UDP, an edge to an undeclared intent.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassPlatform marks a platform family with no known mapping.
	ErrorClassPlatform ErrorClass = "platform"

	// ErrorClassInternal marks a broken invariant inside the planner itself.
	// Policy rules should never produce one; a cycle is the canonical example.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`

	// Intent is the identity key of the intent involved, if any.
	Intent string `json:"intent,omitempty"`

	// Recipe is the recipe that was being derived, if any.
	Recipe string `json:"recipe,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Recipe != "" {
		msg += fmt.Sprintf(" (recipe=%s)", e.Recipe)
	}
	if e.Intent != "" {
		msg += fmt.Sprintf(" (intent=%s)", e.Intent)
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

// Is matches on class and code so sentinel values work with errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithIntent adds intent context to an error.
func (e *EngineError) WithIntent(key string) *EngineError {
	e.Intent = key
	return e
}

// WithRecipe adds recipe context to an error.
func (e *EngineError) WithRecipe(recipe string) *EngineError {
	e.Recipe = recipe
	return e
}

// WithCode sets the error code.
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

// Error codes.
const (
	ErrCodeConfiguration   = "CONFIGURATION_ERROR"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeDanglingEdge    = "DANGLING_EDGE"
	ErrCodeCycle           = "CYCLE_DETECTED"
	ErrCodeUnknownPlatform = "UNKNOWN_PLATFORM"
	ErrCodeUnknownRecipe   = "UNKNOWN_RECIPE"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Only Class and Code are compared.
var (
	ErrConfiguration   = &EngineError{Class: ErrorClassConfiguration, Code: ErrCodeConfiguration}
	ErrDanglingEdge    = &EngineError{Class: ErrorClassConfiguration, Code: ErrCodeDanglingEdge}
	ErrCycle           = &EngineError{Class: ErrorClassInternal, Code: ErrCodeCycle}
	ErrUnknownPlatform = &EngineError{Class: ErrorClassPlatform, Code: ErrCodeUnknownPlatform}
)

// NewConfigurationError reports a fatal, user-caused misconfiguration.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Code:    ErrCodeConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewValidationError reports malformed input that failed struct or schema checks.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Code:    ErrCodeValidation,
		Message: message,
		Err:     err,
	}
}

// NewDanglingEdgeError reports a notification that targets an undeclared intent.
func NewDanglingEdgeError(source, target string) *EngineError {
	return (&EngineError{
		Class:   ErrorClassConfiguration,
		Code:    ErrCodeDanglingEdge,
		Message: fmt.Sprintf("%s notifies %s which is not declared in this run", source, target),
	}).WithIntent(source).WithDetail("target", target)
}

// NewCycleError reports a notification cycle. cycle is the closed path.
func NewCycleError(cycle []string) *EngineError {
	return (&EngineError{
		Class:   ErrorClassInternal,
		Code:    ErrCodeCycle,
		Message: fmt.Sprintf("circular notification detected: %s", formatCycle(cycle)),
	}).WithDetail("cycle", cycle)
}

// NewUnknownPlatformError reports a platform family with no mapping.
func NewUnknownPlatformError(family string) *EngineError {
	return (&EngineError{
		Class:   ErrorClassPlatform,
		Code:    ErrCodeUnknownPlatform,
		Message: fmt.Sprintf("no platform mapping for family %q", family),
	}).WithDetail("family", family)
}

// NewUnknownRecipeError reports a run list entry no cookbook provides.
func NewUnknownRecipeError(recipe string) *EngineError {
	return (&EngineError{
		Class:   ErrorClassConfiguration,
		Code:    ErrCodeUnknownRecipe,
		Message: fmt.Sprintf("no cookbook provides recipe %q", recipe),
	}).WithRecipe(recipe)
}

// NewInternalError reports a planner invariant violation.
func NewInternalError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Code:    ErrCodeInternal,
		Message: message,
	}
}

// IsConfigurationError returns true for any configuration-class error,
// including validation failures and dangling edges.
func IsConfigurationError(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// IsCycleError returns true if err reports a notification cycle.
func IsCycleError(err error) bool {
	return errors.Is(err, ErrCycle)
}

// IsUnknownPlatformError returns true if err reports an unmapped platform family.
func IsUnknownPlatformError(err error) bool {
	return errors.Is(err, ErrUnknownPlatform)
}

// CodeOf returns the code of the first EngineError in the chain, or "".
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

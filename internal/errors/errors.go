// Package errors provides centralized error handling with category metadata
// for the case processing pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	CategoryDicomDecode   ErrorCategory = "dicom-decode"   // malformed DICOM input, fatal for the case+version
	CategoryImageDecode   ErrorCategory = "image-decode"   // malformed embedded image artifact
	CategoryEndpoint      ErrorCategory = "endpoint-call"  // one inference endpoint failed
	CategoryAggregation   ErrorCategory = "aggregation"    // one artifact in an otherwise valid response failed
	CategoryOverlay       ErrorCategory = "overlay"        // overlay selection or compositing
	CategoryDatabase      ErrorCategory = "database"       // persistence failures, fatal
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryNetwork       ErrorCategory = "network"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryValidation    ErrorCategory = "validation"
	CategoryGeneric       ErrorCategory = "generic"
)

// EnhancedError wraps an error with category and context metadata
type EnhancedError struct {
	Err       error          // Original error
	Component string         // Component where error occurred
	Category  ErrorCategory  // Error category for better grouping
	Context   map[string]any // Additional context data
	Timestamp time.Time      // When the error occurred
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is implements error type checking; two enhanced errors match when their
// categories match.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetContext returns a copy of the context data
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	ctx := make(map[string]any, len(ee.Context))
	maps.Copy(ctx, ee.Context)
	return ctx
}

// ErrorBuilder provides a fluent interface for constructing enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new ErrorBuilder for the given error
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{
		err:      err,
		category: CategoryGeneric,
	}
}

// Newf creates a new ErrorBuilder with a formatted error message
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component where the error occurred
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key-value pair to the error context
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the EnhancedError
func (eb *ErrorBuilder) Build() *EnhancedError {
	return &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
}

// NewStd creates a standard error without enhancement, for sentinel errors
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is delegates to the standard errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As delegates to the standard errors.As
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap delegates to the standard errors.Unwrap
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join delegates to the standard errors.Join
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory reports whether err is an EnhancedError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.Category == category
	}
	return false
}

// Package errors wraps the standard library errors package with a builder
// that attaches a component, a category and context to an error, and
// forwards built errors to an optional reporter.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Category classifies an error for reporting and for callers deciding how
// to surface it.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryConfiguration Category = "configuration"
	CategoryNotFound      Category = "not-found"
	CategoryRateLimit     Category = "rate-limit"
	CategoryMissingData   Category = "missing-data"
	CategoryInternal      Category = "internal"
)

// EnhancedError is an error carrying component, category and context.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	if e.Err == nil {
		return string(e.category)
	}
	return e.Err.Error()
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// Component returns the subsystem that produced the error.
func (e *EnhancedError) Component() string { return e.component }

// Category returns the error classification.
func (e *EnhancedError) Category() Category { return e.category }

// Context returns a copy of the attached context.
func (e *EnhancedError) Context() map[string]any {
	return maps.Clone(e.context)
}

// Detail renders the error with its context in a stable key order.
func (e *EnhancedError) Detail() string {
	if len(e.context) == 0 {
		return e.Error()
	}
	keys := slices.Sorted(maps.Keys(e.context))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.context[k]))
	}
	return fmt.Sprintf("%s (%s)", e.Error(), strings.Join(parts, ", "))
}

// ErrorBuilder accumulates metadata before producing an EnhancedError.
type ErrorBuilder struct {
	err *EnhancedError
}

// New starts a builder around an existing error.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: &EnhancedError{Err: err, category: CategoryInternal, context: map[string]any{}}}
}

// Newf starts a builder around a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (b *ErrorBuilder) Component(name string) *ErrorBuilder {
	b.err.component = name
	return b
}

func (b *ErrorBuilder) Category(c Category) *ErrorBuilder {
	b.err.category = c
	return b
}

func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	b.err.context[key] = value
	return b
}

// Build finalizes the error and hands it to the registered reporter.
func (b *ErrorBuilder) Build() error {
	report(b.err)
	return b.err
}

// Reporter receives every built error. Telemetry registers one.
type Reporter func(err *EnhancedError)

var (
	reporter   Reporter
	reporterMu sync.RWMutex
)

// SetReporter installs the reporter; nil disables reporting.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
}

func report(err *EnhancedError) {
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r != nil {
		r(err)
	}
}

// IsCategory reports whether any EnhancedError in err's chain has category c.
func IsCategory(err error, c Category) bool {
	var ee *EnhancedError
	for err != nil {
		if !stderrors.As(err, &ee) {
			return false
		}
		if ee.category == c {
			return true
		}
		err = ee.Err
	}
	return false
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

// NewStd creates a plain sentinel error.
func NewStd(text string) error { return stderrors.New(text) }

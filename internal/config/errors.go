package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrValidationFailed indicates the merged configuration is invalid.
var ErrValidationFailed = errors.New("validation failed")

// LoadError reports a source that could not be read.
type LoadError struct {
	// Source names the provider: "defaults", "file:<path>", "env" or "flags".
	Source string
	Err    error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// ValidationError lists the settings that failed validation.
type ValidationError struct {
	Fields []FieldError
}

// FieldError is one invalid setting.
type FieldError struct {
	// Key is the dotted setting key, such as "dispatch.workers".
	Key   string
	Rule  string
	Value any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: failed %q (value: %v)", f.Key, f.Rule, f.Value)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Is reports whether target is ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

func newValidationError(errs validator.ValidationErrors) *ValidationError {
	ve := &ValidationError{Fields: make([]FieldError, 0, len(errs))}
	for _, fe := range errs {
		ve.Fields = append(ve.Fields, FieldError{
			Key:   settingKey(fe.Namespace()),
			Rule:  fe.Tag(),
			Value: fe.Value(),
		})
	}
	return ve
}

// settingKey drops the root struct name from a validator namespace. The
// namespace already uses koanf tag names.
func settingKey(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

package resilience

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is the sentinel matched by every ConfigurationError.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ConfigurationError reports an invalid constructor parameter.
// It is returned synchronously and is never retried.
type ConfigurationError struct {
	// Component is the name of the component being constructed (e.g. "retry", "circuitbreaker").
	Component string

	// Field is the offending parameter.
	Field string

	// Reason describes the violated constraint.
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Component, e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(component, field, format string, args ...any) error {
	return &ConfigurationError{
		Component: component,
		Field:     field,
		Reason:    fmt.Sprintf(format, args...),
	}
}

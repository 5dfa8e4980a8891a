package core

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks unparsable proposer output.
	ErrParse = errors.New("proposal parse error")
	// ErrValidationFailure marks a rule violation that survived the retry budget.
	ErrValidationFailure = errors.New("validation failure")
	// ErrConfiguration marks a missing default skill or unknown rule reference.
	ErrConfiguration = errors.New("configuration error")
	// ErrConflictUnresolved marks a proposal the arbitration strategy did not decide.
	ErrConflictUnresolved = errors.New("conflict unresolved")
)

// ParseError describes why raw proposer output could not be turned into a Proposal.
type ParseError struct {
	Layer  string
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("parse error [%s]: %s", e.Layer, e.Reason)
	}

	return "parse error: " + e.Reason
}

// Unwrap allows errors.Is(err, ErrParse).
func (e *ParseError) Unwrap() error { return ErrParse }

// ConfigurationError is logged and degrades to a safe no-op; it never aborts a phase.
type ConfigurationError struct {
	Component string
	Detail    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Detail)
}

// Unwrap allows errors.Is(err, ErrConfiguration).
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(component, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Component: component, Detail: fmt.Sprintf(format, args...)}
}

// Package errors provides typed, context-carrying errors for the dispatch
// pipeline, in the style of the teacher's own error package: one struct per
// failure kind, each wrapping the underlying cause for errors.Is/As.
package errors

import (
	"fmt"
	"time"

	"github.com/standardbeagle/dispatchd/internal/types"
)

// ErrorType classifies a failure for logging and triage.
type ErrorType string

const (
	ErrorTypeConfig        ErrorType = "config"
	ErrorTypeClassify      ErrorType = "classify"
	ErrorTypeUnknownType   ErrorType = "unknown_type"
	ErrorTypeSpawn         ErrorType = "spawn"
	ErrorTypeIO            ErrorType = "io"
	ErrorTypeOutputMissing ErrorType = "output_missing"
)

// ConfigError represents a fatal configuration-load or validation failure
// (spec §7: "Configuration errors: fatal, surfaced at startup").
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
}

// NewConfigError creates a new config error.
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Underlying: err}
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config error for field %s: %v", e.Field, e.Underlying)
	}
	return fmt.Sprintf("config error for field %s (value %q): %v", e.Field, e.Value, e.Underlying)
}

func (e *ConfigError) Unwrap() error { return e.Underlying }

// TaskError represents a failure abandoning one task inside TaskRunner
// (plugin spawn or I/O error; output-handler errors are logged unwrapped).
// It is always non-fatal to the engine: the worker
// loop logs it and returns to the queue (spec §7).
type TaskError struct {
	Type       ErrorType
	TaskID     types.TaskID
	ItemPath   string
	PluginName string
	Stage      string
	Underlying error
	Timestamp  time.Time
}

// NewTaskError creates a new task error with context.
func NewTaskError(typ ErrorType, taskID types.TaskID, itemPath, pluginName, stage string, err error) *TaskError {
	return &TaskError{
		Type:       typ,
		TaskID:     taskID,
		ItemPath:   itemPath,
		PluginName: pluginName,
		Stage:      stage,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (%s/%s) failed at %s: %v", e.TaskID, e.PluginName, e.ItemPath, e.Stage, e.Underlying)
}

func (e *TaskError) Unwrap() error { return e.Underlying }

// MultiError aggregates independent validation failures (e.g. several
// malformed plugin entries discovered in one config load pass).
type MultiError struct {
	Errors []error
}

// NewMultiError creates a MultiError, dropping any nil entries.
func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

func (e *MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
	}
}

func (e *MultiError) Unwrap() []error { return e.Errors }

// HasErrors reports whether m carries at least one error.
func (e *MultiError) HasErrors() bool { return len(e.Errors) > 0 }

package api

import (
	"errors"
	"fmt"
	"strings"
)

// The error taxonomy mirrors how failures propagate through a run:
//
//   - ConfigurationError: bad definition or missing registration; aborts the
//     affected branch immediately and is never retried.
//   - ValidationError: analyzer findings or pattern-generation problems;
//     reported synchronously to the caller, no partial result.
//   - ExecutionError: a capability returned an error or timed out; routed
//     through the node's error? edge when declared, fatal otherwise.
//   - ConnectionError: the event channel is unavailable; never fails a run.
//   - SystemError: internal invariant violation (for example the step-count
//     cycle guard firing); always fatal.

// ConfigurationError indicates a defect in the workflow document or its
// wiring: an unregistered node type, a malformed step, a missing required
// field.
type ConfigurationError struct {
	NodeID string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("configuration error at %s: %s", e.NodeID, e.Reason)
	}
	return "configuration error: " + e.Reason
}

// ValidationError reports a synchronous validation failure, such as pattern
// generation with missing parameters.
type ValidationError struct {
	Reason string

	// MissingParameters lists placeholder names absent from the caller's
	// parameter map, when the error came from pattern generation.
	MissingParameters []string
}

func (e *ValidationError) Error() string {
	if len(e.MissingParameters) > 0 {
		return fmt.Sprintf("%s: missing parameters: %s", e.Reason, strings.Join(e.MissingParameters, ", "))
	}
	return e.Reason
}

// ExecutionError wraps an error returned (or a timeout hit) by a node
// capability during a run.
type ExecutionError struct {
	NodeID string
	Type   string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %v", e.NodeID, e.Type, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ConnectionError indicates the remote event channel rejected a send.
// The broadcaster degrades to buffering; a run never fails because of it.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("event channel unavailable: %v", e.Err) }

func (e *ConnectionError) Unwrap() error { return e.Err }

// SystemError indicates an internal invariant violation.
type SystemError struct {
	Reason string
}

func (e *SystemError) Error() string { return "system error: " + e.Reason }

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsSystemError reports whether err is (or wraps) a SystemError.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

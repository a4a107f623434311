package api

import (
	"context"
	"time"
)

// Status represents the terminal state of a run.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Result holds the outcome of one workflow execution.
type Result struct {
	RunID        string
	WorkflowID   string
	WorkflowName string
	Status       Status

	// State is a snapshot of the shared document at run end.
	State map[string]any

	// Steps is the number of node invocations executed, loop iterations
	// included.
	Steps int

	// Err is the fatal error for failed or cancelled runs.
	Err error

	// BranchErrors collects configuration errors that aborted individual
	// branches without failing the run (for example an unregistered node
	// type in one branch while siblings continued).
	BranchErrors []error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall-clock time of the run.
func (r *Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Runner executes workflow definitions against a node registry.
type Runner interface {
	// Run walks the definition to completion, reading and writing the
	// per-run state document and emitting progress events. initialState
	// entries override same-named entries of the definition's own
	// initialState. The returned Result is non-nil even on failure.
	Run(ctx context.Context, def *Definition, initialState map[string]any) (*Result, error)
}

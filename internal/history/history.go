// Package history records finished workflow runs. Definitions themselves
// are never persisted; only the per-run outcome row survives the process.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run id has no record.
var ErrRunNotFound = errors.New("run not found")

// Record is one finished run.
type Record struct {
	RunID        string
	WorkflowID   string
	WorkflowName string
	Status       string
	Steps        int
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Filter narrows ListRuns. Zero values mean "no filter" for that field.
type Filter struct {
	WorkflowID string
	Status     string
}

// Store persists run records.
type Store interface {
	SaveRun(ctx context.Context, rec *Record) error
	GetRun(ctx context.Context, runID string) (*Record, error)
	ListRuns(ctx context.Context, f Filter) ([]*Record, error)
}

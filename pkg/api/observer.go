package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the interpreter for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay workflow execution. Observers are the
// in-process side of observability; the event broadcaster serves the remote
// channel.
type Observer interface {
	// OnRunStart is called once per run, before the first node executes.
	OnRunStart(ctx context.Context, res *Result)

	// OnRunCompleted is called when a run reaches StatusCompleted.
	OnRunCompleted(ctx context.Context, res *Result)

	// OnRunFailed is called when a run ends in StatusFailed or
	// StatusCancelled.
	OnRunFailed(ctx context.Context, res *Result, err error)

	// OnNodeStart is called before each node invocation.
	OnNodeStart(ctx context.Context, res *Result, nodeID, nodeType string)

	// OnNodeCompleted is called after each node invocation, for both
	// successes and failures (err != nil).
	OnNodeCompleted(ctx context.Context, res *Result, nodeID, nodeType, outcome string, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, res *Result)                {}
func (NoopObserver) OnRunCompleted(ctx context.Context, res *Result)            {}
func (NoopObserver) OnRunFailed(ctx context.Context, res *Result, err error)    {}
func (NoopObserver) OnNodeStart(ctx context.Context, res *Result, id, t string) {}
func (NoopObserver) OnNodeCompleted(ctx context.Context, res *Result, id, t, outcome string, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, res *Result) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, res)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, res *Result) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, res)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, res *Result, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, res, err)
	}
}

func (c *CompositeObserver) OnNodeStart(ctx context.Context, res *Result, nodeID, nodeType string) {
	for _, o := range c.observers {
		o.OnNodeStart(ctx, res, nodeID, nodeType)
	}
}

func (c *CompositeObserver) OnNodeCompleted(ctx context.Context, res *Result, nodeID, nodeType, outcome string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeCompleted(ctx, res, nodeID, nodeType, outcome, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / node lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, res *Result) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("workflow", res.WorkflowName),
		slog.String("run_id", res.RunID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, res *Result) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("workflow", res.WorkflowName),
		slog.String("run_id", res.RunID),
		slog.Int("steps", res.Steps),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, res *Result, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("workflow", res.WorkflowName),
		slog.String("run_id", res.RunID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnNodeStart(ctx context.Context, res *Result, nodeID, nodeType string) {
	o.Logger.DebugContext(ctx, "node_start",
		slog.String("run_id", res.RunID),
		slog.String("node_id", nodeID),
		slog.String("node_type", nodeType),
	)
}

func (o *LoggingObserver) OnNodeCompleted(ctx context.Context, res *Result, nodeID, nodeType, outcome string, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "node_completed",
		slog.String("run_id", res.RunID),
		slog.String("node_id", nodeID),
		slog.String("node_type", nodeType),
		slog.String("outcome", outcome),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate node durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	nodesCompleted    atomic.Int64
	totalNodeDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	ActiveRuns    int64

	NodesCompleted  int64
	AvgNodeDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, res *Result) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, res *Result) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, res *Result, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnNodeCompleted(ctx context.Context, res *Result, nodeID, nodeType, outcome string, err error, d time.Duration) {
	// Only count successful nodes for average duration.
	if err == nil {
		m.nodesCompleted.Add(1)
		m.totalNodeDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	nodes := m.nodesCompleted.Load()
	totalNs := m.totalNodeDuration.Load()

	var avg time.Duration
	if nodes > 0 {
		avg = time.Duration(totalNs / nodes)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		ActiveRuns:      started - completed - failed,
		NodesCompleted:  nodes,
		AvgNodeDuration: avg,
	}
}

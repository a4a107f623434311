package edgeflow

import (
	"database/sql"
	"log/slog"

	"github.com/jkoski/edgeflow/internal/broadcast"
	"github.com/jkoski/edgeflow/internal/engine"
	"github.com/jkoski/edgeflow/internal/guard"
	"github.com/jkoski/edgeflow/internal/history"
	"github.com/jkoski/edgeflow/internal/pattern"
	"github.com/jkoski/edgeflow/internal/registry"
	"github.com/jkoski/edgeflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Definition       = api.Definition
	Step             = api.Step
	NodeInvocation   = api.NodeInvocation
	Target           = api.Target
	State            = api.State
	Outcome          = api.Outcome
	ExecutionContext = api.ExecutionContext
	Capability       = api.Capability
	CapabilityFunc   = api.CapabilityFunc
	Registry         = api.Registry
	Runner           = api.Runner
	Result           = api.Result
	Status           = api.Status
	Event            = api.Event
	Emitter          = api.Emitter
	Observer         = api.Observer

	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	ConfigurationError = api.ConfigurationError
	ValidationError    = api.ValidationError
	ExecutionError     = api.ExecutionError
	ConnectionError    = api.ConnectionError
	SystemError        = api.SystemError
)

// Analyzer and pattern-library surface.

type (
	AnalysisReport  = guard.Report
	PatternLibrary  = pattern.Library
	Pattern         = pattern.Pattern
	DetectionResult = pattern.DetectionResult

	Broadcaster       = broadcast.Broadcaster
	BroadcastCategory = broadcast.Category
	Sink              = broadcast.Sink
	WebSocketSink     = broadcast.WebSocketSink

	RunRecord  = history.Record
	RunFilter  = history.Filter
	RunStore   = history.Store
	RunHistory = history.Observer
)

// Re-export common helpers.

var (
	ParseDefinition      = api.ParseDefinition
	NewState             = api.NewState
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	Analyze              = guard.Analyze
	NewWebSocketSink     = broadcast.NewWebSocketSink
)

// Re-export status values for convenience.

const (
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusCancelled = api.StatusCancelled
)

// Broadcast categories for Broadcaster.Subscribe.

const (
	CategoryLifecycle = broadcast.CategoryLifecycle
	CategoryNode      = broadcast.CategoryNode
	CategoryProgress  = broadcast.CategoryProgress
	CategoryError     = broadcast.CategoryError
	CategorySystem    = broadcast.CategorySystem
)

// DefaultMaxSteps is the interpreter's per-run invocation bound.
const DefaultMaxSteps = engine.DefaultMaxSteps

// Constructors wrapping the internal packages so external callers never need
// to import them.

// NewRegistry returns an empty capability registry.
func NewRegistry() Registry {
	return registry.New()
}

// NewBroadcaster creates an event broadcaster without a remote channel;
// attach one later with AttachSink and SetConnected.
func NewBroadcaster(opts ...broadcast.Option) *Broadcaster {
	return broadcast.New(nil, opts...)
}

// EngineOptions configures NewEngine.
type EngineOptions struct {
	// MaxSteps overrides DefaultMaxSteps when > 0.
	MaxSteps int
	// Observer receives in-process lifecycle callbacks.
	Observer Observer
	// Emitter receives outbound events; usually a *Broadcaster.
	Emitter Emitter
}

// NewEngine returns a Runner interpreting definitions against reg.
func NewEngine(reg Registry, opts EngineOptions) Runner {
	return engine.New(reg, engine.Options{
		MaxSteps: opts.MaxSteps,
		Observer: opts.Observer,
		Emitter:  opts.Emitter,
	})
}

// NewPatternLibrary loads the built-in pattern catalog.
func NewPatternLibrary() (*PatternLibrary, error) {
	return pattern.NewLibrary()
}

// LoadPatternLibrary builds a library from a custom JSON catalog.
func LoadPatternLibrary(data []byte) (*PatternLibrary, error) {
	return pattern.LoadLibrary(data)
}

// NewMemoryRunStore returns an in-memory run history store.
func NewMemoryRunStore() RunStore {
	return history.NewMemoryStore()
}

// NewSQLiteRunStore returns a run history store backed by a SQLite database.
// The caller imports the driver (for example "modernc.org/sqlite") and owns
// the *sql.DB lifecycle.
func NewSQLiteRunStore(db *sql.DB) (RunStore, error) {
	return history.NewSQLiteStore(db)
}

// NewRunHistory wraps a store in an Observer that records finished runs.
func NewRunHistory(store RunStore, logger *slog.Logger) Observer {
	return history.NewObserver(store, logger)
}

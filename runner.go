package edgeflow

import (
	"context"
	"log/slog"

	"github.com/jkoski/edgeflow/internal/broadcast"
	"github.com/jkoski/edgeflow/internal/engine"
	"github.com/jkoski/edgeflow/internal/history"
	"github.com/jkoski/edgeflow/internal/registry"
	"github.com/jkoski/edgeflow/nodes"
	"github.com/jkoski/edgeflow/pkg/api"
)

// LocalRunner bundles a registry preloaded with the built-in capabilities, a
// broadcaster, an in-memory run history, and an interpreter into a
// single-process setup for development and embedding.
//
// Typical usage:
//
//	runner := edgeflow.NewLocalRunner(nil)
//	runner.Registry.Register("my-node", myCapability)
//
//	def, err := edgeflow.ParseDefinition(doc)
//	...
//	res, err := runner.Run(ctx, def, map[string]any{"input": payload})
type LocalRunner struct {
	// Registry holds the node capabilities available to runs.
	Registry Registry

	// Broadcaster receives every interpreter event. Attach a sink to
	// forward them off-process.
	Broadcaster *Broadcaster

	// History records finished runs in memory.
	History RunStore

	// Metrics accumulates run and node counters.
	Metrics *BasicMetrics

	runner api.Runner
}

// LocalRunnerOptions tunes NewLocalRunner. The zero value is usable.
type LocalRunnerOptions struct {
	// Logger is used by the logging observer and the built-in log node.
	// Nil falls back to slog.Default().
	Logger *slog.Logger

	// MaxSteps overrides the interpreter's step bound when > 0.
	MaxSteps int

	// BufferCapacity overrides the broadcaster's disconnect buffer bound
	// when > 0.
	BufferCapacity int

	// Quiet disables the logging observer; metrics and history still run.
	Quiet bool
}

var _ api.Runner = (*LocalRunner)(nil)

// NewLocalRunner constructs a LocalRunner. opts may be nil.
func NewLocalRunner(opts *LocalRunnerOptions) *LocalRunner {
	if opts == nil {
		opts = &LocalRunnerOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New()
	reg.RegisterMany(nodes.All(logger))

	var bcastOpts []broadcast.Option
	if opts.BufferCapacity > 0 {
		bcastOpts = append(bcastOpts, broadcast.WithCapacity(opts.BufferCapacity))
	}
	bcastOpts = append(bcastOpts, broadcast.WithLogger(logger))
	b := broadcast.New(nil, bcastOpts...)

	store := history.NewMemoryStore()
	metrics := &api.BasicMetrics{}

	observers := []api.Observer{metrics, history.NewObserver(store, logger)}
	if !opts.Quiet {
		observers = append(observers, api.NewLoggingObserver(logger))
	}

	eng := engine.New(reg, engine.Options{
		MaxSteps: opts.MaxSteps,
		Observer: api.NewCompositeObserver(observers...),
		Emitter:  b,
	})

	return &LocalRunner{
		Registry:    reg,
		Broadcaster: b,
		History:     store,
		Metrics:     metrics,
		runner:      eng,
	}
}

// Run interprets def to completion.
func (r *LocalRunner) Run(ctx context.Context, def *Definition, initialState map[string]any) (*Result, error) {
	return r.runner.Run(ctx, def, initialState)
}

// Close flushes and detaches the broadcaster.
func (r *LocalRunner) Close() {
	r.Broadcaster.Shutdown()
}

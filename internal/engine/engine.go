// Package engine implements the workflow graph interpreter: a depth-first
// walk over the typed step structure in which every node invocation produces
// one named outcome, and that outcome selects the next step through the
// node's edges.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jkoski/edgeflow/pkg/api"
)

const (
	// DefaultMaxSteps bounds the total number of node invocations per run.
	// The JSON format permits arbitrary jump topologies, so an explicit
	// step counter is what guarantees termination.
	DefaultMaxSteps = 1000

	// implicitLoopCap is applied when a loop node has no maxIterations.
	// The engine must still behave safely; the guard analyzer reports the
	// missing bound as a finding.
	implicitLoopCap = 1

	// TerminalOutcome ends a loop node's iteration.
	TerminalOutcome = "done"

	errorOutcome = "error"
)

// Options configures an Engine.
type Options struct {
	// MaxSteps overrides DefaultMaxSteps when > 0.
	MaxSteps int

	// Observer receives in-process lifecycle callbacks. Defaults to
	// api.NoopObserver.
	Observer api.Observer

	// Emitter receives outbound events. Defaults to api.NoopEmitter.
	Emitter api.Emitter
}

// Engine interprets workflow definitions against a shared node registry.
// One Engine may serve many concurrent runs; each run owns its own state.
type Engine struct {
	registry api.Registry
	observer api.Observer
	emitter  api.Emitter
	maxSteps int
}

var _ api.Runner = (*Engine)(nil)

// New creates an Engine bound to the given registry.
func New(reg api.Registry, opts Options) *Engine {
	e := &Engine{
		registry: reg,
		observer: opts.Observer,
		emitter:  opts.Emitter,
		maxSteps: opts.MaxSteps,
	}
	if e.observer == nil {
		e.observer = api.NoopObserver{}
	}
	if e.emitter == nil {
		e.emitter = api.NoopEmitter{}
	}
	if e.maxSteps <= 0 {
		e.maxSteps = DefaultMaxSteps
	}
	return e
}

// Run executes def to completion. initialState entries override same-named
// entries of the definition's initialState. Every fatal outcome emits its
// terminal lifecycle event before Run returns.
func (e *Engine) Run(ctx context.Context, def *api.Definition, initialState map[string]any) (*api.Result, error) {
	if def == nil {
		return nil, &api.ConfigurationError{Reason: "definition is nil"}
	}
	if len(def.Workflow) == 0 {
		return nil, &api.ConfigurationError{Reason: "workflow has no steps"}
	}

	seed := make(map[string]any, len(def.InitialState)+len(initialState))
	for k, v := range def.InitialState {
		seed[k] = v
	}
	for k, v := range initialState {
		seed[k] = v
	}

	res := &api.Result{
		RunID:        uuid.NewString(),
		WorkflowID:   def.ID,
		WorkflowName: def.Name,
		Status:       api.StatusRunning,
		StartedAt:    time.Now(),
	}
	r := &run{
		engine: e,
		ctx:    ctx,
		def:    def,
		state:  api.NewState(seed),
		res:    res,
		total:  def.NodeCount(),
		seq:    make(map[string]int),
	}

	e.emitter.Emit(api.NewWorkflowStarted(res.RunID, def.ID, def.Name, r.total))
	e.observer.OnRunStart(ctx, res)

	err := r.runSequence()

	res.State = r.state.Snapshot()
	res.FinishedAt = time.Now()

	switch {
	case err != nil && ctx.Err() != nil:
		res.Status = api.StatusCancelled
		res.Err = ctx.Err()
		e.emitter.Emit(api.NewWorkflowCancelled(res.RunID, def.ID))
		e.observer.OnRunFailed(ctx, res, ctx.Err())
		return res, ctx.Err()
	case err != nil:
		res.Status = api.StatusFailed
		res.Err = err
		e.emitter.Emit(api.NewWorkflowFailed(res.RunID, def.ID, err.Error()))
		e.observer.OnRunFailed(ctx, res, err)
		return res, err
	default:
		res.Status = api.StatusCompleted
		e.emitter.Emit(api.NewWorkflowCompleted(res.RunID, def.ID, res.Steps))
		e.observer.OnRunCompleted(ctx, res)
		return res, nil
	}
}

// run is the per-execution interpreter state.
type run struct {
	engine *Engine
	ctx    context.Context
	def    *api.Definition
	state  *api.State
	res    *api.Result

	total     int
	completed int
	steps     int
	seq       map[string]int
}

// runSequence walks the top-level workflow sequence, applying jump
// references returned by steps. Jump targets resolve against top-level
// invocations by node type.
func (r *run) runSequence() error {
	stepIdx, invIdx := 0, 0
	for stepIdx < len(r.def.Workflow) {
		jump, err := r.runStep(&r.def.Workflow[stepIdx], invIdx)
		if err != nil {
			return err
		}
		invIdx = 0
		if jump == "" {
			stepIdx++
			continue
		}
		si, ii, ok := r.findJumpTarget(jump)
		if !ok {
			return &api.ConfigurationError{Reason: fmt.Sprintf("jump reference %q matches no top-level node", jump)}
		}
		stepIdx, invIdx = si, ii
	}
	return nil
}

func (r *run) findJumpTarget(ref string) (stepIdx, invIdx int, ok bool) {
	for si := range r.def.Workflow {
		for ii, inv := range r.def.Workflow[si].Invocations {
			if inv.Type == ref {
				return si, ii, true
			}
		}
	}
	return 0, 0, false
}

// runStep executes a step's invocations in insertion order, starting at
// startInv. It returns a non-empty jump reference when an edge requested a
// resume elsewhere; fatal errors abort the run, while configuration errors
// inside the step abort only this branch and let siblings continue.
func (r *run) runStep(step *api.Step, startInv int) (string, error) {
	for idx := startInv; idx < len(step.Invocations); idx++ {
		inv := &step.Invocations[idx]

		// Cancellation is honored between invocations, never mid-node.
		if err := r.ctx.Err(); err != nil {
			return "", err
		}

		outcome, _, err := r.executeNode(inv)
		if err != nil {
			if abort, ok := err.(*branchAbort); ok {
				// Only this invocation's branch dies; siblings in the
				// same step still run.
				r.res.BranchErrors = append(r.res.BranchErrors, abort.err)
				continue
			}
			return "", err
		}

		target, ok := inv.Edges[outcome.Name]
		if !ok {
			// No edge for this outcome: the path simply ends here and
			// the walk continues with the next sibling invocation.
			continue
		}
		if target.Ref != "" {
			return target.Ref, nil
		}
		if target.Step != nil {
			jump, err := r.runStep(target.Step, 0)
			if err != nil {
				return "", err
			}
			if jump != "" {
				return jump, nil
			}
		}
	}
	return "", nil
}

// branchAbort wraps a configuration error that kills one branch without
// failing the run.
type branchAbort struct {
	err error
}

func (b *branchAbort) Error() string { return b.err.Error() }

func (b *branchAbort) Unwrap() error { return b.err }

// executeNode runs one invocation (all iterations of it, for loop nodes)
// and returns the outcome to route on.
func (r *run) executeNode(inv *api.NodeInvocation) (api.Outcome, string, error) {
	nodeID := r.nextNodeID(inv.Type)

	capability, ok := r.engine.registry.Resolve(inv.Type)
	if !ok {
		// Missing registration is a configuration error for this branch,
		// not a silent skip.
		cfgErr := &api.ConfigurationError{NodeID: nodeID, Reason: fmt.Sprintf("no capability registered for node type %q", inv.Type)}
		r.engine.emitter.Emit(api.NewErrorNotification(r.res.RunID, nodeID, api.SeverityError, cfgErr.Error()))
		return api.Outcome{}, nodeID, &branchAbort{err: cfgErr}
	}

	iterations := 1
	if inv.IsLoop {
		iterations = intConfig(inv.Config, "maxIterations", 0)
		if iterations <= 0 {
			iterations = implicitLoopCap
			r.engine.emitter.Emit(api.NewSystemNotification(r.res.RunID, api.SeverityWarning,
				fmt.Sprintf("loop node %s has no maxIterations; applying implicit cap %d", nodeID, implicitLoopCap)))
		}
	}

	var (
		outcome api.Outcome
		execErr error
	)
	for iter := 0; iter < iterations; iter++ {
		if err := r.ctx.Err(); err != nil {
			return api.Outcome{}, nodeID, err
		}
		if r.steps >= r.engine.maxSteps {
			sysErr := &api.SystemError{Reason: fmt.Sprintf("maximum step count %d exceeded; aborting to break a potential cycle", r.engine.maxSteps)}
			r.engine.emitter.Emit(api.NewErrorNotification(r.res.RunID, nodeID, api.SeverityCritical, sysErr.Error()))
			return api.Outcome{}, nodeID, sysErr
		}
		r.steps++
		r.res.Steps = r.steps

		// Loop nodes re-resolve the same configuration every iteration so
		// state written by the previous pass is visible.
		resolved := r.state.ResolveConfig(inv.Config)
		ec := &api.ExecutionContext{
			RunID:  r.res.RunID,
			NodeID: nodeID,
			Type:   inv.Type,
			Config: resolved,
			State:  r.state,
		}

		r.engine.emitter.Emit(api.NewNodeStarted(r.res.RunID, nodeID, inv.Type))
		r.engine.observer.OnNodeStart(r.ctx, r.res, nodeID, inv.Type)

		started := time.Now()
		outcome, execErr = r.invoke(capability, ec, nodeTimeout(resolved))
		elapsed := time.Since(started)

		name := outcome.Name
		if execErr != nil {
			name = errorOutcome
		}
		r.engine.emitter.Emit(api.NewNodeCompleted(r.res.RunID, nodeID, inv.Type, name, elapsed))
		r.engine.observer.OnNodeCompleted(r.ctx, r.res, nodeID, inv.Type, name, execErr, elapsed)

		r.completed++
		r.engine.emitter.Emit(api.NewWorkflowProgress(r.res.RunID, r.completed, r.total))

		if execErr != nil {
			break
		}
		if outcome.Name == "" {
			// A capability must produce exactly one named outcome.
			execErr = fmt.Errorf("capability %q produced no outcome", inv.Type)
			break
		}
		if outcome.Name == TerminalOutcome || outcome.Name == errorOutcome {
			break
		}
		if !inv.IsLoop {
			break
		}
	}

	if execErr != nil {
		execWrapped := &api.ExecutionError{NodeID: nodeID, Type: inv.Type, Err: execErr}
		if _, declared := inv.Edges[errorOutcome]; declared {
			// Local-first: a declared error? edge absorbs the failure.
			r.engine.emitter.Emit(api.NewErrorNotification(r.res.RunID, nodeID, api.SeverityError, execWrapped.Error()))
			return api.Outcome{Name: errorOutcome, Payload: execErr.Error()}, nodeID, nil
		}
		r.engine.emitter.Emit(api.NewErrorNotification(r.res.RunID, nodeID, api.SeverityError, execWrapped.Error()))
		return api.Outcome{}, nodeID, execWrapped
	}
	return outcome, nodeID, nil
}

// invoke runs the capability, enforcing the node's timeout and converting
// panics into execution errors.
func (r *run) invoke(c api.Capability, ec *api.ExecutionContext, timeout time.Duration) (out api.Outcome, err error) {
	ctx := r.ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(r.ctx, timeout)
		defer cancel()
	}

	type pair struct {
		out api.Outcome
		err error
	}
	done := make(chan pair, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- pair{err: fmt.Errorf("capability panicked: %v", rec)}
			}
		}()
		o, e := c.Execute(ctx, ec)
		done <- pair{out: o, err: e}
	}()

	if timeout > 0 {
		select {
		case p := <-done:
			return p.out, p.err
		case <-ctx.Done():
			return api.Outcome{}, fmt.Errorf("node timed out after %s: %w", timeout, ctx.Err())
		}
	}
	p := <-done
	return p.out, p.err
}

func (r *run) nextNodeID(nodeType string) string {
	r.seq[nodeType]++
	return fmt.Sprintf("%s#%d", nodeType, r.seq[nodeType])
}

// nodeTimeout reads the per-node "timeout" config field: a duration string
// ("2s") or a number of milliseconds.
func nodeTimeout(config map[string]any) time.Duration {
	switch v := config["timeout"].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d
	default:
		if ms := intValue(v); ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
		return 0
	}
}

func intConfig(config map[string]any, key string, def int) int {
	v, ok := config[key]
	if !ok {
		return def
	}
	if n := intValue(v); n != 0 {
		return n
	}
	return def
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case interface{ Int64() (int64, error) }: // json.Number
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	default:
		return 0
	}
}

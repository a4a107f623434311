package api

import (
	"context"
	"strings"
)

// Outcome is the single named result of a node invocation. Every invocation
// produces exactly one outcome; the interpreter matches Name against the
// node's edge keys to pick the next step.
type Outcome struct {
	Name    string
	Payload any
}

// ExecutionContext is the per-invocation view handed to a capability.
type ExecutionContext struct {
	// RunID identifies the execution this invocation belongs to.
	RunID string

	// NodeID is unique within the run, e.g. "database#3".
	NodeID string

	// Type is the node-type identifier the capability was resolved under.
	Type string

	// Config is the node's configuration with all $.path and {{$.path}}
	// references already substituted from state.
	Config map[string]any

	// State is the shared mutable document for this execution.
	State *State
}

// ApplyWrites stores the value of every "$."-prefixed config key into state
// at that path. The write-marker convention is interpreted by capabilities,
// not by the interpreter; capabilities that produce state call this after
// computing their result.
func (ec *ExecutionContext) ApplyWrites() {
	for k, v := range ec.Config {
		if strings.HasPrefix(k, refPrefix) {
			ec.State.Set(strings.TrimPrefix(k, refPrefix), v)
		}
	}
}

// ConfigString returns the config value at key as a string, or def when the
// key is absent or not a string.
func (ec *ExecutionContext) ConfigString(key, def string) string {
	if s, ok := ec.Config[key].(string); ok {
		return s
	}
	return def
}

// Capability is the executable behavior registered under a node-type
// identifier. Implementations must be safe for concurrent use: the registry
// is shared read-only across executions.
type Capability interface {
	// Type returns the node-type identifier this capability serves.
	Type() string

	// Execute runs the node and returns exactly one outcome. Returning an
	// error (instead of an "error" outcome) routes through the node's
	// error? edge when one is declared, and fails the run otherwise.
	Execute(ctx context.Context, ec *ExecutionContext) (Outcome, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc struct {
	Name string
	Fn   func(ctx context.Context, ec *ExecutionContext) (Outcome, error)
}

func (c CapabilityFunc) Type() string { return c.Name }

func (c CapabilityFunc) Execute(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
	return c.Fn(ctx, ec)
}

// Valid reports whether the adapter carries both a type and a function.
// Registry.RegisterMany rejects malformed entries using this check.
func (c CapabilityFunc) Valid() bool { return c.Name != "" && c.Fn != nil }

// Registry maps node-type identifiers to capabilities. Registration is
// idempotent by type (last write wins); lookups are safe for concurrent use.
type Registry interface {
	// Register binds a capability to nodeType, replacing any previous
	// binding for the same identifier.
	Register(nodeType string, c Capability) error

	// RegisterMany registers each capability under its own Type and
	// returns the number successfully registered. Malformed entries (nil,
	// empty type, or failing their own validity check) are excluded from
	// the count; duplicates overwrite and still count.
	RegisterMany(caps []Capability) int

	// Resolve returns the capability for nodeType, with ok=false when no
	// binding exists.
	Resolve(nodeType string) (Capability, bool)

	// Types returns the registered node-type identifiers, sorted.
	Types() []string
}

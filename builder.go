package edgeflow

import (
	"fmt"

	"github.com/jkoski/edgeflow/pkg/api"
)

// FlowBuilder provides a fluent API for assembling definitions in code
// instead of JSON:
//
//	def := edgeflow.New("daily-sync", "Daily Sync").
//	    Node("database", edgeflow.Config{"operation": "query"},
//	        edgeflow.On("success",
//	            edgeflow.Next("log", edgeflow.Config{"message": "done"}),
//	        ),
//	        edgeflow.On("error",
//	            edgeflow.Next("log", edgeflow.Config{"level": "error", "message": "query failed"}),
//	        ),
//	    ).
//	    Build()
type FlowBuilder struct {
	def api.Definition
}

// Config is a node's configuration object.
type Config map[string]any

// Edge pairs an outcome name with its target.
type Edge struct {
	outcome string
	target  api.Target
}

// New creates a builder for a definition with the given id and name.
func New(id, name string) *FlowBuilder {
	return &FlowBuilder{
		def: api.Definition{
			ID:   id,
			Name: name,
		},
	}
}

// Version sets the definition version.
func (b *FlowBuilder) Version(v string) *FlowBuilder {
	b.def.Version = v
	return b
}

// InitialState seeds the definition's initial state document.
func (b *FlowBuilder) InitialState(state map[string]any) *FlowBuilder {
	b.def.InitialState = state
	return b
}

// Node appends a top-level step containing one node invocation.
func (b *FlowBuilder) Node(nodeType string, cfg Config, edges ...Edge) *FlowBuilder {
	b.def.Workflow = append(b.def.Workflow, api.Step{
		Invocations: []api.NodeInvocation{buildInvocation(nodeType, cfg, false, edges)},
	})
	return b
}

// Loop appends a top-level loop node. maxIterations <= 0 leaves the bound
// unset; the interpreter then applies its implicit single-iteration cap and
// reports the missing bound.
func (b *FlowBuilder) Loop(nodeType string, maxIterations int, cfg Config, edges ...Edge) *FlowBuilder {
	if maxIterations > 0 {
		if cfg == nil {
			cfg = Config{}
		}
		cfg["maxIterations"] = maxIterations
	}
	b.def.Workflow = append(b.def.Workflow, api.Step{
		Invocations: []api.NodeInvocation{buildInvocation(nodeType, cfg, true, edges)},
	})
	return b
}

// On routes an outcome to a nested sequence of invocations.
func On(outcome string, invocations ...api.NodeInvocation) Edge {
	if outcome == "" {
		panic("edgeflow: edge outcome must not be empty")
	}
	return Edge{
		outcome: outcome,
		target:  api.Target{Step: &api.Step{Invocations: invocations}},
	}
}

// OnRef routes an outcome to a named top-level node (a jump).
func OnRef(outcome, ref string) Edge {
	if outcome == "" {
		panic("edgeflow: edge outcome must not be empty")
	}
	if ref == "" {
		panic("edgeflow: jump reference must not be empty")
	}
	return Edge{outcome: outcome, target: api.Target{Ref: ref}}
}

// Next builds an invocation for use inside On.
func Next(nodeType string, cfg Config, edges ...Edge) api.NodeInvocation {
	return buildInvocation(nodeType, cfg, false, edges)
}

// NextLoop builds a loop invocation for use inside On.
func NextLoop(nodeType string, maxIterations int, cfg Config, edges ...Edge) api.NodeInvocation {
	if maxIterations > 0 {
		if cfg == nil {
			cfg = Config{}
		}
		cfg["maxIterations"] = maxIterations
	}
	return buildInvocation(nodeType, cfg, true, edges)
}

func buildInvocation(nodeType string, cfg Config, isLoop bool, edges []Edge) api.NodeInvocation {
	if nodeType == "" {
		panic("edgeflow: node type must not be empty")
	}
	inv := api.NodeInvocation{
		Type:   nodeType,
		Config: cfg,
		IsLoop: isLoop,
	}
	if len(edges) > 0 {
		inv.Edges = make(map[string]api.Target, len(edges))
		for _, e := range edges {
			if _, dup := inv.Edges[e.outcome]; dup {
				panic(fmt.Sprintf("edgeflow: duplicate edge %q on node %q", e.outcome, nodeType))
			}
			inv.Edges[e.outcome] = e.target
		}
	}
	return inv
}

// Build finalizes the definition. It validates the same constraints the JSON
// parser enforces.
func (b *FlowBuilder) Build() (*Definition, error) {
	if b.def.ID == "" {
		return nil, &api.ConfigurationError{Reason: "definition has no id"}
	}
	if len(b.def.Workflow) == 0 {
		return nil, &api.ConfigurationError{Reason: "workflow has no steps"}
	}
	def := b.def
	return &def, nil
}

// MustBuild is like Build but panics on error. Useful in examples and tests.
func (b *FlowBuilder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

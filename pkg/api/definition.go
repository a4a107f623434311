package api

// Definition describes a workflow as parsed from its JSON document.
//
// The wire format encodes control flow in key suffixes: a step object's keys
// are node-type identifiers (a trailing "..." marks a loop node), and a node's
// configuration object may contain edge keys ending in "?" whose values are
// either a string jump reference or a nested step. ParseDefinition converts
// that convention into this explicit typed form once, at load time; nothing
// downstream ever re-inspects raw key strings.
type Definition struct {
	ID           string
	Name         string
	Version      string
	InitialState map[string]any
	Workflow     []Step
}

// Step is one entry of a workflow sequence: an ordered list of node
// invocations, preserved in document insertion order.
type Step struct {
	Invocations []NodeInvocation
}

// NodeInvocation is a single configured invocation of a registered
// capability.
type NodeInvocation struct {
	// Type is the node-type identifier the registry resolves.
	Type string

	// Config is the node's configuration with all edge keys removed.
	// Values may contain $.path and {{$.path}} state references; they are
	// resolved against the execution state immediately before the node runs.
	Config map[string]any

	// Edges maps an outcome name (the "success" of "success?") to the
	// target selected when the node produces that outcome.
	Edges map[string]Target

	// IsLoop reports whether the invocation key carried the "..." suffix.
	// Loop nodes re-execute until they produce a terminal outcome or their
	// configured maxIterations bound is reached.
	IsLoop bool
}

// Target is the destination of an edge: exactly one of Ref or Step is set.
type Target struct {
	// Ref, when non-empty, names a node type elsewhere in the graph to
	// resume from (forward or backward jump).
	Ref string

	// Step, when non-nil, is a nested step executed inline before the
	// walk continues.
	Step *Step
}

// NodeCount returns the total number of node invocations in the workflow,
// including invocations nested under edges.
func (d *Definition) NodeCount() int {
	n := 0
	for i := range d.Workflow {
		n += countInvocations(&d.Workflow[i])
	}
	return n
}

func countInvocations(s *Step) int {
	n := 0
	for _, inv := range s.Invocations {
		n++
		for _, t := range inv.Edges {
			if t.Step != nil {
				n += countInvocations(t.Step)
			}
		}
	}
	return n
}

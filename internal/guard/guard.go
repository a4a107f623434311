// Package guard statically analyzes workflow definitions for structural
// quality issues: missing failure edges on fallible node types, absent input
// validation, unguarded loops, and state paths read but never written.
//
// Analysis never invokes capabilities. The state-conflict check is a
// conservative existence heuristic: a read counts as satisfied when any
// write's key contains the read's normalized path as a substring. Ordering
// is not modeled, so the check can both under- and over-report.
package guard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jkoski/edgeflow/pkg/api"
)

// fallibleTypes are node types whose capabilities are expected to be able to
// fail and therefore warrant an error? edge.
var fallibleTypes = map[string]bool{
	"database":       true,
	"filesystem":     true,
	"http":           true,
	"ai":             true,
	"auth":           true,
	"workflow":       true,
	"oauth":          true,
	"email-send":     true,
	"email-list":     true,
	"resource-read":  true,
	"resource-write": true,
}

var validationTypes = map[string]bool{
	"validation": true,
	"validate":   true,
}

var comparisonTypes = map[string]bool{
	"logic":      true,
	"comparison": true,
}

var readPattern = regexp.MustCompile(`\$\.[\w.]+`)

// Report is the aggregated analysis result, shaped for external tooling.
type Report struct {
	Summary   Summary    `json:"summary"`
	Structure Structure  `json:"structure"`
	Guards    Guards     `json:"guards"`
	Patterns  Patterns   `json:"patterns"`
	State     StateUsage `json:"state"`

	// Opportunities are human-readable suggestions, each prefixed with its
	// category tag and ordered by category, not severity.
	Opportunities []string `json:"opportunities"`
}

// Summary identifies the analyzed workflow.
type Summary struct {
	WorkflowID   string `json:"workflowId"`
	WorkflowName string `json:"workflowName"`
	NodeCount    int    `json:"nodeCount"`
	Findings     int    `json:"findings"`
}

// Structure describes the shape of the graph. FlatNodes counts invocations
// at depth 0, NestedNodes everything deeper; the two always sum to
// NodeCount.
type Structure struct {
	NodeCount   int     `json:"nodeCount"`
	FlatNodes   int     `json:"flatNodes"`
	NestedNodes int     `json:"nestedNodes"`
	MaxDepth    int     `json:"maxDepth"`
	FlatRatio   float64 `json:"flatRatio"`
}

// Guards reports the presence of expected structural safeguards.
type Guards struct {
	HasInputValidation     bool     `json:"hasInputValidation"`
	HasValidationAfterAI   bool     `json:"hasValidationAfterAI"`
	HasArrayGuards         bool     `json:"hasArrayGuards"`
	AICalls                int      `json:"aiCalls"`
	LoopNodes              []string `json:"loopNodes"`
	NodesWithoutErrorEdges []string `json:"nodesWithoutErrorEdges"`
}

// Patterns carries structural observations about the control-flow shape.
type Patterns struct {
	Notes []string `json:"notes"`
}

// StateUsage lists the state paths a workflow touches. Conflicts are reads
// satisfied by neither a write nor initialState.
type StateUsage struct {
	Reads     []string `json:"reads"`
	Writes    []string `json:"writes"`
	Conflicts []string `json:"conflicts"`
}

// Analyze walks the definition and produces a Report. It is a pure function
// over the typed step structure.
func Analyze(def *api.Definition) (*Report, error) {
	if def == nil {
		return nil, &api.ValidationError{Reason: "definition is nil"}
	}

	w := &walker{
		reads:  make(map[string]bool),
		writes: make(map[string]bool),
	}
	for i := range def.Workflow {
		w.walkStep(&def.Workflow[i], 0, fmt.Sprintf("workflow[%d]", i))
	}

	rep := &Report{}
	rep.Summary.WorkflowID = def.ID
	rep.Summary.WorkflowName = def.Name

	w.fillStructure(rep)
	w.fillGuards(rep, def)
	w.fillState(rep, def)
	w.fillPatterns(rep)
	buildOpportunities(rep)

	rep.Summary.NodeCount = rep.Structure.NodeCount
	rep.Summary.Findings = len(rep.Opportunities)
	return rep, nil
}

// nodeRef is one visited invocation with its document position.
type nodeRef struct {
	inv      *api.NodeInvocation
	depth    int
	path     string
	hasError bool
}

type walker struct {
	nodes    []nodeRef
	maxDepth int
	reads    map[string]bool
	writes   map[string]bool
}

func (w *walker) walkStep(step *api.Step, depth int, path string) {
	if depth > w.maxDepth {
		w.maxDepth = depth
	}
	for _, inv := range step.Invocations {
		inv := inv
		_, hasErr := inv.Edges["error"]
		w.nodes = append(w.nodes, nodeRef{inv: &inv, depth: depth, path: path, hasError: hasErr})
		w.collectState(inv.Config)

		outcomes := make([]string, 0, len(inv.Edges))
		for o := range inv.Edges {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)
		for _, o := range outcomes {
			if t := inv.Edges[o]; t.Step != nil {
				w.walkStep(t.Step, depth+1, path+"."+o)
			}
		}
	}
}

// collectState records reads (any $.path occurrence in config values) and
// writes ("$."-prefixed config keys).
func (w *walker) collectState(config map[string]any) {
	for k, v := range config {
		if strings.HasPrefix(k, "$.") {
			w.writes[normalizePath(k)] = true
		}
		w.collectReads(v)
	}
}

func (w *walker) collectReads(v any) {
	switch val := v.(type) {
	case string:
		for _, m := range readPattern.FindAllString(val, -1) {
			w.reads[normalizePath(m)] = true
		}
	case map[string]any:
		for _, item := range val {
			w.collectReads(item)
		}
	case []any:
		for _, item := range val {
			w.collectReads(item)
		}
	}
}

func normalizePath(ref string) string {
	return strings.TrimPrefix(ref, "$.")
}

func (w *walker) fillStructure(rep *Report) {
	s := &rep.Structure
	for _, n := range w.nodes {
		s.NodeCount++
		if n.depth == 0 {
			s.FlatNodes++
		} else {
			s.NestedNodes++
		}
	}
	s.MaxDepth = w.maxDepth
	if s.NodeCount > 0 {
		s.FlatRatio = float64(s.FlatNodes) / float64(s.NodeCount)
	}
}

func (w *walker) fillGuards(rep *Report, def *api.Definition) {
	g := &rep.Guards

	// Input validation must be the very first top-level step and reference
	// the run input.
	if len(w.nodes) > 0 {
		first := w.nodes[0]
		if first.depth == 0 && validationTypes[first.inv.Type] && referencesPath(first.inv.Config, "$.input") {
			g.HasInputValidation = true
		}
	}

	// Fallible nodes need a declared error? edge.
	for _, n := range w.nodes {
		if fallibleTypes[n.inv.Type] && !n.hasError {
			g.NodesWithoutErrorEdges = append(g.NodesWithoutErrorEdges, fmt.Sprintf("%s at %s", n.inv.Type, n.path))
		}
	}

	// Validation following an AI call, in document order.
	g.HasValidationAfterAI = true
	for i, n := range w.nodes {
		if n.inv.Type != "ai" {
			continue
		}
		g.AICalls++
		followed := i+1 < len(w.nodes) && validationTypes[w.nodes[i+1].inv.Type]
		if !followed {
			g.HasValidationAfterAI = false
		}
	}
	if g.AICalls == 0 {
		g.HasValidationAfterAI = false
	}

	// Loops should be preceded by an array-length comparison guard.
	lengthGuardSeen := false
	guardedAll := true
	for _, n := range w.nodes {
		if comparisonTypes[n.inv.Type] && referencesSubstring(n.inv.Config, ".length") {
			lengthGuardSeen = true
		}
		if n.inv.IsLoop {
			g.LoopNodes = append(g.LoopNodes, fmt.Sprintf("%s at %s", n.inv.Type, n.path))
			if !lengthGuardSeen {
				guardedAll = false
			}
		}
	}
	g.HasArrayGuards = len(g.LoopNodes) > 0 && guardedAll
}

func (w *walker) fillState(rep *Report, def *api.Definition) {
	st := &rep.State
	st.Reads = sortedKeys(w.reads)
	st.Writes = sortedKeys(w.writes)

	for _, read := range st.Reads {
		if satisfied(read, w.writes, def.InitialState) {
			continue
		}
		st.Conflicts = append(st.Conflicts, fmt.Sprintf("state path %q is read but never written and absent from initialState", read))
	}
}

// satisfied applies the permissive containment heuristic: any write whose
// key contains the read path as a substring counts, as does a matching
// initialState entry.
func satisfied(read string, writes map[string]bool, initial map[string]any) bool {
	for w := range writes {
		if strings.Contains(w, read) || strings.Contains(read, w) {
			return true
		}
	}
	segs := strings.Split(read, ".")
	if _, ok := initial[segs[0]]; ok {
		return true
	}
	return false
}

func (w *walker) fillPatterns(rep *Report) {
	p := &rep.Patterns
	s := rep.Structure
	switch {
	case s.NodeCount == 0:
	case s.MaxDepth == 0:
		p.Notes = append(p.Notes, "linear pipeline: every node at the top level, control flow by sequence only")
	case s.FlatRatio < 0.5:
		p.Notes = append(p.Notes, "deeply branched graph: most nodes live under outcome edges")
	default:
		p.Notes = append(p.Notes, "mixed shape: a flat spine with nested branch handling")
	}

	hasJump := false
	for _, n := range w.nodes {
		for _, t := range n.inv.Edges {
			if t.Ref != "" {
				hasJump = true
			}
		}
	}
	if hasJump {
		p.Notes = append(p.Notes, "jump references present: verify the step-count guard covers the cycle topology")
	}
}

// buildOpportunities assembles the category-prefixed suggestion list in
// fixed category order: FLATTEN, NESTING, GUARD, ERROR, STATE, PATTERN.
func buildOpportunities(rep *Report) {
	var out []string

	if rep.Structure.MaxDepth >= 3 {
		out = append(out, fmt.Sprintf("FLATTEN: Nesting reaches depth %d; consider jump references or sub-workflows to flatten deep branches", rep.Structure.MaxDepth))
	}
	if rep.Structure.NodeCount >= 8 && rep.Structure.FlatRatio == 1 {
		out = append(out, "NESTING: Long flat sequence with no branch handling; consider grouping failure paths under error? edges")
	}
	if !rep.Guards.HasInputValidation {
		out = append(out, "GUARD: No input validation as the first step; add a validation node referencing $.input before other work")
	}
	if len(rep.Guards.LoopNodes) > 0 && !rep.Guards.HasArrayGuards {
		out = append(out, "GUARD: Loops detected without array length guards; add a logic node checking .length before iterating")
	}
	if rep.Guards.AICalls > 0 && !rep.Guards.HasValidationAfterAI {
		out = append(out, "GUARD: AI call without a following validation step; model output should be checked before use")
	}
	for _, n := range rep.Guards.NodesWithoutErrorEdges {
		out = append(out, fmt.Sprintf("ERROR: Fallible node %s has no error? edge; failures will abort the run", n))
	}
	for _, c := range rep.State.Conflicts {
		out = append(out, "STATE: "+c)
	}
	for _, note := range rep.Patterns.Notes {
		out = append(out, "PATTERN: "+note)
	}

	rep.Opportunities = out
}

func referencesPath(config map[string]any, ref string) bool {
	return referencesSubstring(config, ref)
}

func referencesSubstring(config map[string]any, sub string) bool {
	return valueContains(config, sub)
}

func valueContains(v any, sub string) bool {
	switch val := v.(type) {
	case string:
		return strings.Contains(val, sub)
	case map[string]any:
		for k, item := range val {
			if strings.Contains(k, sub) || valueContains(item, sub) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if valueContains(item, sub) {
				return true
			}
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

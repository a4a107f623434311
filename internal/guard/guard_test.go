package guard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkoski/edgeflow/pkg/api"
)

func mustParse(t *testing.T, doc string) *api.Definition {
	t.Helper()
	def, err := api.ParseDefinition([]byte(doc))
	require.NoError(t, err)
	return def
}

func opportunitiesWithPrefix(rep *Report, prefix string) []string {
	var out []string
	for _, o := range rep.Opportunities {
		if strings.HasPrefix(o, prefix) {
			out = append(out, o)
		}
	}
	return out
}

func TestAnalyze_NilDefinition(t *testing.T) {
	_, err := Analyze(nil)
	require.Error(t, err)
	var ve *api.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestAnalyze_StructureCounts(t *testing.T) {
	def := mustParse(t, `{
		"id": "shape",
		"workflow": [
			{
				"a": {
					"ok?": {
						"b": {
							"ok?": {"c": {}}
						}
					}
				}
			},
			{"d": {}}
		]
	}`)

	rep, err := Analyze(def)
	require.NoError(t, err)

	s := rep.Structure
	assert.Equal(t, 4, s.NodeCount)
	assert.Equal(t, 2, s.FlatNodes)
	assert.Equal(t, 2, s.NestedNodes)
	assert.Equal(t, s.NodeCount, s.FlatNodes+s.NestedNodes)
	assert.Equal(t, 2, s.MaxDepth)
	assert.InDelta(t, 0.5, s.FlatRatio, 1e-9)
	assert.Equal(t, s.NodeCount, rep.Summary.NodeCount)
}

func TestAnalyze_FlatRatioBounds(t *testing.T) {
	flat := mustParse(t, `{"id": "f", "workflow": [{"a": {}}, {"b": {}}]}`)
	rep, err := Analyze(flat)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rep.Structure.FlatRatio)
	assert.Equal(t, 0, rep.Structure.MaxDepth)
}

func TestAnalyze_FallibleNodeWithoutErrorEdge(t *testing.T) {
	def := mustParse(t, `{
		"id": "missing-edges",
		"workflow": [
			{"database": {"operation": "query"}},
			{
				"http": {
					"url": "x",
					"error?": {"log": {}}
				}
			}
		]
	}`)

	rep, err := Analyze(def)
	require.NoError(t, err)

	require.Len(t, rep.Guards.NodesWithoutErrorEdges, 1)
	assert.Equal(t, "database at workflow[0]", rep.Guards.NodesWithoutErrorEdges[0])

	errOps := opportunitiesWithPrefix(rep, "ERROR:")
	require.Len(t, errOps, 1)
	assert.Contains(t, errOps[0], "database at workflow[0]")
}

func TestAnalyze_NestedFinding_Paths(t *testing.T) {
	def := mustParse(t, `{
		"id": "nested-path",
		"workflow": [
			{
				"validation": {
					"schema": "$.input",
					"valid?": {
						"http": {"url": "x"}
					}
				}
			}
		]
	}`)

	rep, err := Analyze(def)
	require.NoError(t, err)
	require.Len(t, rep.Guards.NodesWithoutErrorEdges, 1)
	assert.Equal(t, "http at workflow[0].valid", rep.Guards.NodesWithoutErrorEdges[0])
}

func TestAnalyze_InputValidation(t *testing.T) {
	withValidation := mustParse(t, `{
		"id": "v",
		"workflow": [
			{"validation": {"schema": "$.input"}},
			{"log": {}}
		]
	}`)
	rep, err := Analyze(withValidation)
	require.NoError(t, err)
	assert.True(t, rep.Guards.HasInputValidation)
	assert.Empty(t, opportunitiesWithPrefix(rep, "GUARD: No input validation"))

	withoutRef := mustParse(t, `{
		"id": "v2",
		"workflow": [
			{"validation": {"schema": "something-else"}}
		]
	}`)
	rep, err = Analyze(withoutRef)
	require.NoError(t, err)
	assert.False(t, rep.Guards.HasInputValidation, "validation must reference $.input")

	notFirst := mustParse(t, `{
		"id": "v3",
		"workflow": [
			{"log": {}},
			{"validation": {"schema": "$.input"}}
		]
	}`)
	rep, err = Analyze(notFirst)
	require.NoError(t, err)
	assert.False(t, rep.Guards.HasInputValidation, "validation must be the first step")
	assert.NotEmpty(t, opportunitiesWithPrefix(rep, "GUARD: No input validation"))
}

func TestAnalyze_LoopGuards(t *testing.T) {
	unguarded := mustParse(t, `{
		"id": "loop",
		"workflow": [
			{"process...": {"maxIterations": 5}}
		]
	}`)
	rep, err := Analyze(unguarded)
	require.NoError(t, err)
	require.Len(t, rep.Guards.LoopNodes, 1)
	assert.False(t, rep.Guards.HasArrayGuards)
	guardOps := opportunitiesWithPrefix(rep, "GUARD:")
	assert.Contains(t, guardOps, "GUARD: Loops detected without array length guards; add a logic node checking .length before iterating")

	guarded := mustParse(t, `{
		"id": "guarded",
		"workflow": [
			{"logic": {"operation": "greater", "values": ["$.items.length", 0]}},
			{"process...": {"maxIterations": 5}}
		]
	}`)
	rep, err = Analyze(guarded)
	require.NoError(t, err)
	assert.True(t, rep.Guards.HasArrayGuards)
	assert.NotContains(t, rep.Opportunities, "GUARD: Loops detected without array length guards; add a logic node checking .length before iterating")
}

func TestAnalyze_ValidationAfterAI(t *testing.T) {
	unchecked := mustParse(t, `{
		"id": "ai",
		"workflow": [
			{"ai": {"prompt": "x"}},
			{"log": {}}
		]
	}`)
	rep, err := Analyze(unchecked)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Guards.AICalls)
	assert.False(t, rep.Guards.HasValidationAfterAI)
	assert.NotEmpty(t, opportunitiesWithPrefix(rep, "GUARD: AI call"))

	checked := mustParse(t, `{
		"id": "ai2",
		"workflow": [
			{"ai": {"prompt": "x"}},
			{"validation": {"schema": "output"}}
		]
	}`)
	rep, err = Analyze(checked)
	require.NoError(t, err)
	assert.True(t, rep.Guards.HasValidationAfterAI)
	assert.Empty(t, opportunitiesWithPrefix(rep, "GUARD: AI call"))
}

func TestAnalyze_StateConflicts(t *testing.T) {
	def := mustParse(t, `{
		"id": "state",
		"initialState": {"input": {}},
		"workflow": [
			{"set": {"$.result.rows": "x"}},
			{"log": {"message": "{{$.result.rows}} and {{$.ghost.value}} and {{$.input}}"}}
		]
	}`)

	rep, err := Analyze(def)
	require.NoError(t, err)

	assert.Contains(t, rep.State.Writes, "result.rows")
	assert.Contains(t, rep.State.Reads, "ghost.value")

	stateOps := opportunitiesWithPrefix(rep, "STATE:")
	require.Len(t, stateOps, 1)
	assert.Contains(t, stateOps[0], "ghost.value")
}

func TestAnalyze_SubstringHeuristicIsPermissive(t *testing.T) {
	// "result" is satisfied by the "result.rows" write: the containment check
	// accepts prefix reads of deeper writes.
	def := mustParse(t, `{
		"id": "heuristic",
		"workflow": [
			{"set": {"$.result.rows": 1}},
			{"log": {"message": "$.result"}}
		]
	}`)

	rep, err := Analyze(def)
	require.NoError(t, err)
	assert.Empty(t, rep.State.Conflicts)
}

func TestAnalyze_OpportunityCategoryOrder(t *testing.T) {
	def := mustParse(t, `{
		"id": "everything",
		"workflow": [
			{"database": {"q": "$.missing.path"}},
			{"process...": {"maxIterations": 2}}
		]
	}`)

	rep, err := Analyze(def)
	require.NoError(t, err)
	require.NotEmpty(t, rep.Opportunities)

	order := map[string]int{"FLATTEN": 0, "NESTING": 1, "GUARD": 2, "ERROR": 3, "STATE": 4, "PATTERN": 5}
	last := -1
	for _, o := range rep.Opportunities {
		cat, _, ok := strings.Cut(o, ":")
		require.True(t, ok, "opportunity %q has no category prefix", o)
		rank, known := order[cat]
		require.True(t, known, "unknown category %q", cat)
		assert.GreaterOrEqual(t, rank, last)
		if rank > last {
			last = rank
		}
	}
	assert.Equal(t, len(rep.Opportunities), rep.Summary.Findings)
}

func TestAnalyze_DeepNestingFlattenOpportunity(t *testing.T) {
	def := mustParse(t, `{
		"id": "deep",
		"workflow": [
			{
				"a": {
					"ok?": {
						"b": {
							"ok?": {
								"c": {
									"ok?": {"d": {}}
								}
							}
						}
					}
				}
			}
		]
	}`)

	rep, err := Analyze(def)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Structure.MaxDepth)
	assert.NotEmpty(t, opportunitiesWithPrefix(rep, "FLATTEN:"))
}

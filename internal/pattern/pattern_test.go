package pattern

import (
	"encoding/json"
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

func mustLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := NewLibrary()
	require.NoError(t, err)
	return lib
}

func TestNewLibrary_EmbeddedCatalog(t *testing.T) {
	lib := mustLibrary(t)
	assert.NotEmpty(t, lib.List(""))

	p, ok := lib.Get("etl-pipeline")
	require.True(t, ok)
	assert.Equal(t, "data", p.Category)

	_, ok = lib.Get("no-such-pattern")
	assert.False(t, ok)
}

func TestLibrary_ListByCategory(t *testing.T) {
	lib := mustLibrary(t)

	all := lib.List("")
	data := lib.List("data")
	assert.Less(t, len(data), len(all))
	for _, p := range data {
		assert.Equal(t, "data", p.Category)
	}
	assert.Empty(t, lib.List("no-such-category"))
}

func TestLoadLibrary_Validation(t *testing.T) {
	_, err := LoadLibrary([]byte(`not json`))
	assert.Error(t, err)

	_, err = LoadLibrary([]byte(`[{"name": "x"}]`))
	assert.Error(t, err, "entries need ids")

	_, err = LoadLibrary([]byte(`[{"id": "a"}, {"id": "a"}]`))
	assert.Error(t, err, "duplicate ids rejected")
}

func TestPattern_Parameters(t *testing.T) {
	lib := mustLibrary(t)
	p, ok := lib.Get("etl-pipeline")
	require.True(t, ok)

	// Distinct placeholder names, sorted; repeated use counts once. The
	// {{$.path}} state template in other catalog entries is not a parameter.
	assert.Equal(t, []string{"filterConditions", "sourceTable", "targetTable", "transformations"}, p.Parameters())

	batch, ok := lib.Get("batch-loop")
	require.True(t, ok)
	assert.Equal(t, []string{"batchSize", "maxIterations", "name"}, batch.Parameters())
}

func TestDetect_FullMatch(t *testing.T) {
	lib := mustLibrary(t)
	def := mustParse(t, `{
		"id": "my-etl",
		"workflow": [
			{
				"database": {
					"operation": "select",
					"error?": {"log": {}},
					"success?": {"log": {}}
				}
			},
			{"transform": {}},
			{"database": {"operation": "insert"}}
		]
	}`)

	res, err := lib.Detect(def)
	require.NoError(t, err)

	var etl *Detected
	for i := range res.DetectedPatterns {
		if res.DetectedPatterns[i].PatternID == "etl-pipeline" {
			etl = &res.DetectedPatterns[i]
		}
	}
	require.NotNil(t, etl, "etl-pipeline should be detected, got %+v", res)
	assert.GreaterOrEqual(t, etl.Confidence, DetectThreshold)
}

func TestDetect_PartialMatchBecomesSuggestion(t *testing.T) {
	lib := mustLibrary(t)
	def := mustParse(t, `{
		"id": "partial",
		"workflow": [
			{"database": {"error?": {"log": {}}}},
			{"transform": {}}
		]
	}`)

	res, err := lib.Detect(def)
	require.NoError(t, err)

	for _, d := range res.DetectedPatterns {
		assert.NotEqual(t, "etl-pipeline", d.PatternID)
	}
	var found bool
	for _, s := range res.Suggestions {
		if s.PatternID == "etl-pipeline" {
			found = true
			assert.Less(t, s.Confidence, DetectThreshold)
			assert.GreaterOrEqual(t, s.Confidence, SuggestThreshold)
			assert.NotEmpty(t, s.Hint)
		}
	}
	assert.True(t, found, "near-miss should surface as a suggestion, got %+v", res)
}

func TestDetect_SortedByConfidence(t *testing.T) {
	lib := mustLibrary(t)
	def := mustParse(t, `{
		"id": "multi",
		"workflow": [
			{"database": {"error?": {"log": {}}, "success?": {"log": {}}}},
			{"transform": {}},
			{"database": {}},
			{"http": {}},
			{"merge": {}}
		]
	}`)

	res, err := lib.Detect(def)
	require.NoError(t, err)
	for i := 1; i < len(res.DetectedPatterns); i++ {
		assert.GreaterOrEqual(t, res.DetectedPatterns[i-1].Confidence, res.DetectedPatterns[i].Confidence)
	}
	for i := 1; i < len(res.Suggestions); i++ {
		assert.GreaterOrEqual(t, res.Suggestions[i-1].Confidence, res.Suggestions[i].Confidence)
	}
}

func TestDetect_NilDefinition(t *testing.T) {
	lib := mustLibrary(t)
	_, err := lib.Detect(nil)
	var ve *api.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestGenerate_Success(t *testing.T) {
	lib := mustLibrary(t)

	def, err := lib.Generate("etl-pipeline", map[string]any{
		"sourceTable":      "orders",
		"targetTable":      "orders_clean",
		"filterConditions": map[string]any{"status": "open"},
		"transformations":  []any{"trim", "dedupe"},
	})
	require.NoError(t, err)

	assert.Equal(t, "etl-orders-orders_clean", def.ID)
	assert.Equal(t, "ETL orders to orders_clean", def.Name)
	require.Len(t, def.Workflow, 3)

	extract := def.Workflow[0].Invocations[0]
	assert.Equal(t, "orders", extract.Config["table"])
	// Whole-string placeholders take the parameter's JSON shape.
	assert.Equal(t, map[string]any{"status": "open"}, extract.Config["filter"])
	require.Contains(t, extract.Edges, "error")

	// No placeholder survives generation.
	encoded, err := json.Marshal(def)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "{{")
}

func TestGenerate_NumericParameterUnquotes(t *testing.T) {
	lib := mustLibrary(t)

	def, err := lib.Generate("batch-loop", map[string]any{
		"name":          "emails",
		"batchSize":     25,
		"maxIterations": 40,
	})
	require.NoError(t, err)

	loop := def.Workflow[1].Invocations[0]
	assert.True(t, loop.IsLoop)
	n, ok := loop.Config["maxIterations"].(json.Number)
	require.True(t, ok, "numeric parameter should re-parse as a number, got %T", loop.Config["maxIterations"])
	i, err := n.Int64()
	require.NoError(t, err)
	assert.EqualValues(t, 40, i)

	// The {{$.items.length}} state template is preserved for runtime.
	logic := def.Workflow[0].Invocations[0]
	values := logic.Config["values"].([]any)
	assert.Equal(t, "{{$.items.length}}", values[0])
}

func TestGenerate_MissingParametersIsAtomic(t *testing.T) {
	lib := mustLibrary(t)

	_, err := lib.Generate("etl-pipeline", map[string]any{
		"sourceTable": "orders",
		"targetTable": "orders_clean",
	})
	require.Error(t, err)

	var ve *api.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"filterConditions", "transformations"}, ve.MissingParameters)
	assert.Contains(t, ve.Error(), "missing parameters")
}

func TestGenerate_UnknownPattern(t *testing.T) {
	lib := mustLibrary(t)
	_, err := lib.Generate("ghost", nil)
	var ve *api.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, strings.ToLower(ve.Error()), "unknown pattern")
}

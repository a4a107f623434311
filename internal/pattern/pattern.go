// Package pattern provides the catalog of named, parameterized workflow
// templates, structural detection of those patterns in arbitrary
// definitions, and template instantiation.
package pattern

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/jkoski/edgeflow/pkg/api"
)

// Detection thresholds: at or above DetectThreshold a pattern counts as
// detected; between SuggestThreshold and DetectThreshold it is offered as a
// suggestion.
const (
	DetectThreshold  = 0.75
	SuggestThreshold = 0.45
)

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// quotedPlaceholderPattern matches a placeholder that is the entire quoted
// string, so non-string parameters (objects, arrays, numbers) can replace
// the quotes too and survive re-parsing.
var quotedPlaceholderPattern = regexp.MustCompile(`"\{\{(\w+)\}\}"`)

// Pattern is one catalog entry. Structure is the detectable signature;
// Template is a workflow document with {{param}} placeholders.
type Pattern struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Complexity  string          `json:"complexity"`
	Structure   Structure       `json:"structure"`
	Template    json.RawMessage `json:"template"`
	Variations  []string        `json:"variations"`
}

// Structure is a pattern's structural descriptor, compared against a
// definition by multiset and shape similarity rather than exact subtree
// equality.
type Structure struct {
	NodeTypes []string `json:"nodeTypes"`
	Outcomes  []string `json:"outcomes"`
	HasLoop   bool     `json:"hasLoop"`
	MaxDepth  int      `json:"maxDepth"`
}

// Parameters returns the distinct placeholder names of the template, sorted.
func (p *Pattern) Parameters() []string {
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(string(p.Template), -1) {
		seen[m[1]] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Detected is one pattern found in a definition.
type Detected struct {
	PatternID  string  `json:"patternId"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Suggestion is a pattern the definition resembles without matching.
type Suggestion struct {
	PatternID  string  `json:"patternId"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Hint       string  `json:"hint"`
}

// DetectionResult groups detections and near-miss suggestions.
type DetectionResult struct {
	DetectedPatterns []Detected   `json:"detectedPatterns"`
	Suggestions      []Suggestion `json:"suggestions"`
}

// Library is the read-only pattern catalog, loaded once at process start.
type Library struct {
	patterns []Pattern
	byID     map[string]*Pattern
}

// NewLibrary loads the embedded catalog.
func NewLibrary() (*Library, error) {
	return LoadLibrary(catalogJSON)
}

// LoadLibrary builds a Library from a JSON catalog document.
func LoadLibrary(data []byte) (*Library, error) {
	var patterns []Pattern
	if err := json.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("invalid pattern catalog: %w", err)
	}
	lib := &Library{patterns: patterns, byID: make(map[string]*Pattern, len(patterns))}
	for i := range lib.patterns {
		p := &lib.patterns[i]
		if p.ID == "" {
			return nil, fmt.Errorf("pattern catalog entry %d has no id", i)
		}
		if _, dup := lib.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate pattern id %q", p.ID)
		}
		lib.byID[p.ID] = p
	}
	return lib, nil
}

// List returns catalog entries, filtered by category when non-empty.
func (l *Library) List(category string) []Pattern {
	out := make([]Pattern, 0, len(l.patterns))
	for _, p := range l.patterns {
		if category == "" || p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Get returns one pattern with its full template.
func (l *Library) Get(id string) (*Pattern, bool) {
	p, ok := l.byID[id]
	return p, ok
}

// Detect scores every cataloged pattern against the definition's structure.
func (l *Library) Detect(def *api.Definition) (*DetectionResult, error) {
	if def == nil {
		return nil, &api.ValidationError{Reason: "definition is nil"}
	}
	sig := signatureOf(def)

	res := &DetectionResult{}
	for _, p := range l.patterns {
		conf := similarity(sig, p.Structure)
		switch {
		case conf >= DetectThreshold:
			res.DetectedPatterns = append(res.DetectedPatterns, Detected{
				PatternID:  p.ID,
				Name:       p.Name,
				Category:   p.Category,
				Confidence: round2(conf),
			})
		case conf >= SuggestThreshold:
			res.Suggestions = append(res.Suggestions, Suggestion{
				PatternID:  p.ID,
				Name:       p.Name,
				Confidence: round2(conf),
				Hint:       fmt.Sprintf("workflow resembles %q; compare against its template for missing pieces", p.Name),
			})
		}
	}
	sort.Slice(res.DetectedPatterns, func(i, j int) bool {
		return res.DetectedPatterns[i].Confidence > res.DetectedPatterns[j].Confidence
	})
	sort.Slice(res.Suggestions, func(i, j int) bool {
		return res.Suggestions[i].Confidence > res.Suggestions[j].Confidence
	})
	return res, nil
}

// Generate materializes a workflow from a pattern and parameter bindings.
// It is atomic: every placeholder must resolve or the call fails with a
// missing-parameters error listing each absent name, and nothing is applied.
func (l *Library) Generate(patternID string, params map[string]any) (*api.Definition, error) {
	p, ok := l.byID[patternID]
	if !ok {
		return nil, &api.ValidationError{Reason: fmt.Sprintf("unknown pattern %q", patternID)}
	}

	var missing []string
	for _, name := range p.Parameters() {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &api.ValidationError{
			Reason:            fmt.Sprintf("cannot generate pattern %q", patternID),
			MissingParameters: missing,
		}
	}

	text := string(p.Template)

	// Whole-string placeholders take the parameter's JSON form so objects
	// and arrays re-parse as themselves.
	var marshalErr error
	text = quotedPlaceholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := quotedPlaceholderPattern.FindStringSubmatch(m)[1]
		b, err := json.Marshal(params[name])
		if err != nil {
			marshalErr = fmt.Errorf("parameter %q: %w", name, err)
			return m
		}
		return string(b)
	})
	if marshalErr != nil {
		return nil, &api.ValidationError{Reason: marshalErr.Error()}
	}

	// Remaining inline placeholders substitute as plain text.
	text = placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		return fmt.Sprint(params[name])
	})

	def, err := api.ParseDefinition([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("generated workflow does not parse: %w", err)
	}
	return def, nil
}

// signatureOf extracts a definition's structural signature for comparison.
func signatureOf(def *api.Definition) Structure {
	sig := Structure{}
	seenOutcomes := make(map[string]bool)
	var walk func(s *api.Step, depth int)
	walk = func(s *api.Step, depth int) {
		if depth > sig.MaxDepth {
			sig.MaxDepth = depth
		}
		for _, inv := range s.Invocations {
			sig.NodeTypes = append(sig.NodeTypes, inv.Type)
			if inv.IsLoop {
				sig.HasLoop = true
			}
			for o, t := range inv.Edges {
				if !seenOutcomes[o] {
					seenOutcomes[o] = true
					sig.Outcomes = append(sig.Outcomes, o)
				}
				if t.Step != nil {
					walk(t.Step, depth+1)
				}
			}
		}
	}
	for i := range def.Workflow {
		walk(&def.Workflow[i], 0)
	}
	return sig
}

// similarity blends node-type multiset overlap, outcome-set overlap, and
// loop agreement into a confidence in [0,1].
func similarity(sig, want Structure) float64 {
	typeSim := multisetOverlap(sig.NodeTypes, want.NodeTypes)
	outcomeSim := setOverlap(sig.Outcomes, want.Outcomes)

	loopSim := 0.0
	if sig.HasLoop == want.HasLoop {
		loopSim = 1.0
	}

	return 0.6*typeSim + 0.25*outcomeSim + 0.15*loopSim
}

// multisetOverlap is sum(min(count)) over the pattern's types, normalized
// by the pattern's total. An empty pattern matches nothing.
func multisetOverlap(have, want []string) float64 {
	if len(want) == 0 {
		return 0
	}
	haveCount := make(map[string]int)
	for _, t := range have {
		haveCount[t]++
	}
	matched := 0
	wantCount := make(map[string]int)
	for _, t := range want {
		wantCount[t]++
	}
	for t, w := range wantCount {
		h := haveCount[t]
		if h < w {
			matched += h
		} else {
			matched += w
		}
	}
	return float64(matched) / float64(len(want))
}

func setOverlap(have, want []string) float64 {
	if len(want) == 0 {
		return 1
	}
	haveSet := make(map[string]bool)
	for _, o := range have {
		haveSet[o] = true
	}
	matched := 0
	for _, o := range want {
		if haveSet[o] {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

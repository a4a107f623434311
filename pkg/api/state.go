package api

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// templatePattern matches an embedded state reference such as {{$.user.name}}
// inside a larger string. Each occurrence is replaced independently.
var templatePattern = regexp.MustCompile(`\{\{\$\.[\w.]+\}\}`)

// refPrefix marks a state path reference.
const refPrefix = "$."

// State is the single mutable document shared by all node invocations of one
// execution, addressed by dotted paths.
//
// Node invocations within a run are strictly sequential, so the lock exists
// only for observers and sinks that snapshot state from other goroutines.
type State struct {
	mu  sync.RWMutex
	doc map[string]any
}

// NewState creates a State seeded with a deep copy of initial.
func NewState(initial map[string]any) *State {
	return &State{doc: deepCopyMap(initial)}
}

// Get returns the value at the dotted path, without the "$." prefix.
// The second return is false when any path segment is missing.
func (s *State) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.doc, path)
}

// Set writes value at the dotted path, creating intermediate maps as needed.
// A non-map intermediate value is overwritten.
func (s *State) Set(path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	segs := strings.Split(path, ".")
	cur := s.doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// Resolve substitutes state references in v.
//
// A string that is entirely a bare reference ("$.path.to.value") resolves to
// the referenced value with its original type; a missing path yields nil.
// Strings containing embedded {{$.path}} templates have each occurrence
// replaced with the stringified value (missing paths become empty strings).
// Maps and slices are resolved recursively. Other values pass through
// unchanged, so resolving a document with no references is the identity.
func (s *State) Resolve(v any) any {
	switch val := v.(type) {
	case string:
		return s.resolveString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = s.Resolve(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.Resolve(item)
		}
		return out
	default:
		return v
	}
}

// ResolveConfig returns a copy of config with every state reference in its
// values substituted. The original map is not modified.
func (s *State) ResolveConfig(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = s.Resolve(v)
	}
	return out
}

func (s *State) resolveString(str string) any {
	if isBareRef(str) {
		v, _ := s.Get(strings.TrimPrefix(str, refPrefix))
		return v
	}
	if !templatePattern.MatchString(str) {
		return str
	}
	return templatePattern.ReplaceAllStringFunc(str, func(m string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(m, "{{"+refPrefix), "}}")
		v, ok := s.Get(path)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// Snapshot returns a deep copy of the current document.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyMap(s.doc)
}

// isBareRef reports whether str is, in its entirety, a state path reference.
func isBareRef(str string) bool {
	if !strings.HasPrefix(str, refPrefix) {
		return false
	}
	rest := str[len(refPrefix):]
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if r != '.' && r != '_' && !isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

func lookup(doc map[string]any, path string) (any, bool) {
	segs := strings.Split(path, ".")
	var cur any = doc
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

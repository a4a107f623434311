// Package registry implements the node-type to capability mapping shared
// read-only by concurrent executions.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jkoski/edgeflow/pkg/api"
)

type registry struct {
	mu     sync.RWMutex
	byType map[string]api.Capability
}

// New returns an empty registry. Registration normally happens at startup;
// lookups are safe for concurrent use.
func New() api.Registry {
	return &registry{byType: make(map[string]api.Capability)}
}

var _ api.Registry = (*registry)(nil)

// Register binds c to nodeType. Re-registering an identifier overwrites the
// previous binding (last write wins), which keeps hot-reload scenarios
// simple.
func (r *registry) Register(nodeType string, c api.Capability) error {
	if nodeType == "" {
		return fmt.Errorf("node type identifier must not be empty")
	}
	if c == nil {
		return fmt.Errorf("capability for %q is nil", nodeType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[nodeType] = c
	return nil
}

// RegisterMany registers each capability under its own Type and returns the
// number actually registered. Duplicate identifiers overwrite silently and
// still count; malformed entries are excluded so callers can detect partial
// failures.
func (r *registry) RegisterMany(caps []api.Capability) int {
	count := 0
	for _, c := range caps {
		if !wellFormed(c) {
			continue
		}
		if err := r.Register(c.Type(), c); err == nil {
			count++
		}
	}
	return count
}

func (r *registry) Resolve(nodeType string) (api.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byType[nodeType]
	return c, ok
}

func (r *registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// wellFormed filters out capabilities missing the execute contract: nil
// interface values, empty type identifiers, and adapters that report
// themselves invalid (for example an api.CapabilityFunc with a nil Fn).
func wellFormed(c api.Capability) bool {
	if c == nil || c.Type() == "" {
		return false
	}
	if v, ok := c.(interface{ Valid() bool }); ok && !v.Valid() {
		return false
	}
	return true
}

package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a goroutine-safe Store backed by a map, for tests and the
// local runner.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Record)}
}

func (s *MemoryStore) SaveRun(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[rec.RunID] = *rec
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.runs))
	for _, rec := range s.runs {
		if f.WorkflowID != "" && rec.WorkflowID != f.WorkflowID {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		rec := rec
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

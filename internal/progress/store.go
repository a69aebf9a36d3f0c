package progress

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

const dbTimeout = 5 * time.Second

// Store persists progress records. Implementations must return records the
// caller may mutate without affecting stored state.
type Store interface {
	// Load returns the record for learnerID; found is false when none exists.
	Load(ctx context.Context, learnerID string) (rec Record, found bool, err error)
	// Save creates or replaces the record for rec.LearnerID.
	Save(ctx context.Context, rec Record) error
	// List returns every record ordered by learner id.
	List(ctx context.Context) ([]Record, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	records map[string]Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

func (s *MemoryStore) Load(_ context.Context, learnerID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[learnerID]
	if !ok {
		return Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.LearnerID] = rec.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	slices.SortFunc(out, func(a, b Record) int {
		return strings.Compare(a.LearnerID, b.LearnerID)
	})
	return out, nil
}

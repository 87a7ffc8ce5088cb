package character

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store provides access to character records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a record by ID. Returns (nil, nil) if not found.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns all records ordered by ID.
	List(ctx context.Context) ([]Record, error)

	// Upsert creates or replaces a record after validating it.
	Upsert(ctx context.Context, rec *Record) error

	// Delete removes a record. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error
}

// Require is like [Store.Get] but reports a missing record as [ErrNotFound].
func Require(ctx context.Context, s Store, id string) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return rec, nil
}

// MemStore is an in-memory [Store]. Records are copied on the way in and out
// so callers cannot mutate the stored state.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore seeded with recs.
func NewMemStore(recs ...Record) *MemStore {
	s := &MemStore{records: make(map[string]*Record, len(recs))}
	for i := range recs {
		s.records[recs[i].ID] = recs[i].Clone()
	}
	return s
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].Clone(), nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Upsert implements [Store].
func (s *MemStore) Upsert(_ context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Delete implements [Store].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// Replace swaps the full record set atomically. Used when the characters
// file is reloaded.
func (s *MemStore) Replace(recs []Record) {
	next := make(map[string]*Record, len(recs))
	for i := range recs {
		next[recs[i].ID] = recs[i].Clone()
	}
	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
}

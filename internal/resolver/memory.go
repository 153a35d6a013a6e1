package resolver

import (
	"context"
	"strings"
	"sync"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// MemoryStore is an in-memory entity store (would be replaced with a
// database-backed store in production).
type MemoryStore struct {
	mu      sync.RWMutex
	records map[model.EntityKind][]Record
}

// NewMemoryStore creates an empty in-memory entity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[model.EntityKind][]Record),
	}
}

// Add inserts records for a kind.
func (s *MemoryStore) Add(kind model.EntityKind, recs ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[kind] = append(s.records[kind], recs...)
}

// FindByNameFragment returns records whose full, first or last name contains
// the fragment, case-insensitively.
func (s *MemoryStore) FindByNameFragment(ctx context.Context, fragment string, kind model.EntityKind) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(fragment))
	if needle == "" {
		return nil, nil
	}

	var out []Record
	for _, rec := range s.records[kind] {
		if strings.Contains(strings.ToLower(rec.FullName), needle) ||
			strings.Contains(strings.ToLower(rec.FirstName), needle) ||
			strings.Contains(strings.ToLower(rec.LastName), needle) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindByID returns the record with the exact id, or nil.
func (s *MemoryStore) FindByID(ctx context.Context, id string, kind model.EntityKind) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records[kind] {
		if rec.ID == id {
			r := rec
			return &r, nil
		}
	}
	return nil, nil
}

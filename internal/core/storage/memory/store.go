// Package memory provides an in-memory OffsetStore.
// Useful for testing and for ephemeral runs where losing the cursor on
// restart is acceptable.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tributary-io/tributary/internal/core/storage"
)

// Store is an in-memory implementation of storage.OffsetStore.
type Store struct {
	mu      sync.RWMutex
	records map[string]storage.OffsetRecord
}

// NewStore creates an empty in-memory offset store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]storage.OffsetRecord),
	}
}

func (s *Store) Read(ctx context.Context, accountID string) (*storage.OffsetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[accountID]
	if !exists {
		return nil, nil
	}
	if rec.SchemaVersion != storage.SchemaVersion {
		return nil, nil
	}

	// Return a copy to prevent external modification
	out := rec
	return &out, nil
}

func (s *Store) Write(ctx context.Context, record storage.OffsetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	s.records[record.AccountID] = record
	return nil
}

func (s *Store) Delete(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, accountID)
	return nil
}

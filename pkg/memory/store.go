package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/entrhq/merlin/pkg/types"
)

// ErrAlreadyExists is returned by a Store when an attempt with the same ID has
// already been persisted. Memory treats it as success so a retried write
// never duplicates a record.
var ErrAlreadyExists = errors.New("memory: attempt already exists")

// Store is the durable backing of the attempt log. Implementations are
// append-only and must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, a types.Attempt) error
	Load(ctx context.Context) ([]types.Attempt, error)
	Close() error
}

// MemStore keeps attempts in process memory. It is the stand-in used by tests
// and by the "memory" backend.
type MemStore struct {
	mu       sync.Mutex
	attempts []types.Attempt
	ids      map[string]struct{}
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{ids: make(map[string]struct{})}
}

func (s *MemStore) Append(_ context.Context, a types.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[a.ID]; ok {
		return ErrAlreadyExists
	}
	s.ids[a.ID] = struct{}{}
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *MemStore) Load(_ context.Context) ([]types.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Attempt(nil), s.attempts...), nil
}

func (s *MemStore) Close() error { return nil }

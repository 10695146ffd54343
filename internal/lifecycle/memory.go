package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]*Resource
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{resources: make(map[string]*Resource)}
}

func memKey(entityType, id string) string {
	return entityType + "\x00" + id
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, r *Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey(r.EntityType, r.ID)
	if _, ok := s.resources[k]; ok {
		return ErrAlreadyExists
	}
	r.Version = 1
	s.resources[k] = r.clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, entityType, id string) (*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[memKey(entityType, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

// CompareAndSwap implements Store.
func (s *MemoryStore) CompareAndSwap(_ context.Context, entityType, id string, version int64, next fsm.State, at time.Time) (*Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[memKey(entityType, id)]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Version != version {
		return nil, ErrVersionConflict
	}
	r.State = next
	r.Version++
	r.UpdatedAt = at.UTC()
	return r.clone(), nil
}

package store

import (
	"context"
	"slices"
	"sync"

	"github.com/justestif/go-shorts-feed/internal/domain"
)

// MemoryStore keeps records in process memory. Records are cloned in and out.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*domain.UserRecord
	locks   map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*domain.UserRecord),
		locks:   make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing writers of userID.
func (s *MemoryStore) keyLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(_ context.Context, userID string) (*domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, notFound(userID)
	}
	return rec.Clone(), nil
}

// Mutate applies fn to an existing record.
func (s *MemoryStore) Mutate(_ context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(userID, false, fn)
}

// Upsert applies fn, creating the record if needed.
func (s *MemoryStore) Upsert(_ context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(userID, true, fn)
}

func (s *MemoryStore) mutate(userID string, create bool, fn MutateFunc) (*domain.UserRecord, error) {
	l := s.keyLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	cur := s.records[userID]
	s.mu.Unlock()

	next, err := apply(userID, cur, create, fn)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records[userID] = next
	s.mu.Unlock()

	return next.Clone(), nil
}

// IDs lists stored user ids in sorted order.
func (s *MemoryStore) IDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

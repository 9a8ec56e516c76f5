package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/justestif/go-shorts-feed/internal/domain"
)

// FileStore keeps every record in one JSON document keyed by user id.
// Writes are serialized and replace the document atomically, so a failed write leaves the old file intact.
type FileStore struct {
	path string

	mu      sync.Mutex
	records map[string]*domain.UserRecord
}

// OpenFileStore loads the document at path, creating the parent directory if needed.
// A missing file starts an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s := &FileStore{path: path, records: make(map[string]*domain.UserRecord)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading users file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("parsing users file: %w", err)
	}
	for id, rec := range s.records {
		if rec == nil {
			delete(s.records, id)
			continue
		}
		rec.ID = id
		rec.Normalize()
	}
	return s, nil
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns a copy of the record.
func (s *FileStore) Get(_ context.Context, userID string) (*domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, notFound(userID)
	}
	return rec.Clone(), nil
}

// Mutate applies fn to an existing record.
func (s *FileStore) Mutate(_ context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(userID, false, fn)
}

// Upsert applies fn, creating the record if needed.
func (s *FileStore) Upsert(_ context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(userID, true, fn)
}

func (s *FileStore) mutate(userID string, create bool, fn MutateFunc) (*domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := apply(userID, s.records[userID], create, fn)
	if err != nil {
		return nil, err
	}

	prev, existed := s.records[userID]
	s.records[userID] = next
	if err := s.flush(); err != nil {
		if existed {
			s.records[userID] = prev
		} else {
			delete(s.records, userID)
		}
		return nil, writeFailure(userID, err)
	}
	return next.Clone(), nil
}

// flush writes the whole document. Callers hold s.mu.
func (s *FileStore) flush() error {
	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("creating pending users file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.records); err != nil {
		return fmt.Errorf("encoding users file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replacing users file: %w", err)
	}
	return nil
}

// IDs lists stored user ids in sorted order.
func (s *FileStore) IDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Close is a no-op; every write is already durable.
func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)

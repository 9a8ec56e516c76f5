package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/metrics"
)

const badgerKeyPrefix = "user:"

// BadgerStore keeps records as JSON values under "user:<id>" in an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the database in dir. An empty dir runs in memory.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(userID string) []byte {
	return []byte(badgerKeyPrefix + userID)
}

// Get returns the stored record.
func (s *BadgerStore) Get(_ context.Context, userID string) (*domain.UserRecord, error) {
	var out *domain.UserRecord
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := badgerRead(txn, userID)
		out = rec
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading user %s: %w", userID, err)
	}
	if out == nil {
		return nil, notFound(userID)
	}
	return out, nil
}

// Mutate applies fn to an existing record.
func (s *BadgerStore) Mutate(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(ctx, userID, false, fn)
}

// Upsert applies fn, creating the record if needed.
func (s *BadgerStore) Upsert(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(ctx, userID, true, fn)
}

// mutate runs the read-modify-write in one Badger transaction.
// Badger detects concurrent writers of the same key at commit and the loser retries.
func (s *BadgerStore) mutate(ctx context.Context, userID string, create bool, fn MutateFunc) (*domain.UserRecord, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var out *domain.UserRecord
		var fnErr error
		err := s.db.Update(func(txn *badger.Txn) error {
			cur, err := badgerRead(txn, userID)
			if err != nil {
				return err
			}
			next, err := apply(userID, cur, create, fn)
			if err != nil {
				fnErr = err
				return err
			}
			buf, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encoding user: %w", err)
			}
			out = next
			return txn.Set(badgerKey(userID), buf)
		})
		switch {
		case err == nil:
			return out, nil
		case fnErr != nil:
			return nil, fnErr
		case errors.Is(err, badger.ErrConflict):
			metrics.IncStoreConflict(BackendBadger)
			continue
		default:
			return nil, writeFailure(userID, err)
		}
	}
	return nil, writeFailure(userID, badger.ErrConflict)
}

// badgerRead returns the decoded record, or nil when the key is absent.
func badgerRead(txn *badger.Txn, userID string) (*domain.UserRecord, error) {
	item, err := txn.Get(badgerKey(userID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec domain.UserRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	rec.Normalize()
	return &rec, nil
}

// IDs lists stored user ids in key order.
func (s *BadgerStore) IDs(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), badgerKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return ids, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error { return s.db.Close() }

var _ Store = (*BadgerStore)(nil)

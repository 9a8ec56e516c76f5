// Package store persists one UserRecord per user id behind an atomic read-modify-write contract.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justestif/go-shorts-feed/internal/domain"
)

// ErrNoChange aborts a Mutate or Upsert whose fn found nothing to change.
// The stored record is left untouched and its revision is not bumped.
var ErrNoChange = errors.New("no change")

// MutateFunc transforms a record in place. Returning an error aborts the write.
type MutateFunc func(*domain.UserRecord) error

// Store is durable keyed storage of user records.
//
// Mutate and Upsert are atomic with respect to other writers of the same user id:
// two concurrent calls never lose either effect. Writers of different ids do not block each other.
// On a durable write failure the returned error wraps domain.ErrWriteFailure and the prior state is kept.
type Store interface {
	// Get returns a copy of the record or domain.ErrNotFound.
	Get(ctx context.Context, userID string) (*domain.UserRecord, error)

	// Mutate applies fn to the existing record. domain.ErrNotFound when absent.
	Mutate(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error)

	// Upsert is Mutate starting from an empty record when none exists.
	Upsert(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error)

	// IDs lists every stored user id.
	IDs(ctx context.Context) ([]string, error)

	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// maxConflictRetries bounds optimistic-transaction retries in the badger and redis backends.
const maxConflictRetries = 64

// apply runs fn against a copy of cur and stamps the result.
// cur is nil when no record exists; create selects Upsert semantics.
func apply(userID string, cur *domain.UserRecord, create bool, fn MutateFunc) (*domain.UserRecord, error) {
	var rec *domain.UserRecord
	switch {
	case cur != nil:
		rec = cur.Clone()
	case create:
		rec = domain.NewUserRecord(userID)
	default:
		return nil, notFound(userID)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}

	rec.ID = userID
	rec.Normalize()
	rec.Touch(time.Now().UTC())
	return rec, nil
}

func notFound(userID string) error {
	return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
}

func writeFailure(userID string, err error) error {
	return fmt.Errorf("writing user %s: %w: %w", userID, domain.ErrWriteFailure, err)
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/go-shorts-feed/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS user_records (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	revision   BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps records as JSONB rows in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool, verifies it and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Get retrieves a record by user id.
func (s *PostgresStore) Get(ctx context.Context, userID string) (*domain.UserRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM user_records WHERE id = $1`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(userID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return decodeRecord(data)
}

// Mutate applies fn to an existing record under a row lock.
func (s *PostgresStore) Mutate(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(ctx, userID, false, fn)
}

// Upsert applies fn, creating the record if needed.
func (s *PostgresStore) Upsert(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(ctx, userID, true, fn)
}

func (s *PostgresStore) mutate(ctx context.Context, userID string, create bool, fn MutateFunc) (*domain.UserRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, writeFailure(userID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if create {
		// A placeholder row gives concurrent upserts of a new user a row to lock.
		empty, err := json.Marshal(domain.NewUserRecord(userID))
		if err != nil {
			return nil, fmt.Errorf("encoding user: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO user_records (id, data, revision, updated_at)
			VALUES ($1, $2, 0, NOW())
			ON CONFLICT (id) DO NOTHING`, userID, empty)
		if err != nil {
			return nil, writeFailure(userID, err)
		}
	}

	var data []byte
	err = tx.QueryRow(ctx, `SELECT data FROM user_records WHERE id = $1 FOR UPDATE`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(userID)
	}
	if err != nil {
		return nil, fmt.Errorf("locking user: %w", err)
	}
	cur, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}

	next, err := apply(userID, cur, create, fn)
	if err != nil {
		return nil, err
	}

	buf, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encoding user: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE user_records
		SET data = $2, revision = $3, updated_at = $4
		WHERE id = $1`, userID, buf, next.Revision, next.LastModified)
	if err != nil {
		return nil, writeFailure(userID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, writeFailure(userID, err)
	}
	return next, nil
}

// IDs lists stored user ids in sorted order.
func (s *PostgresStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM user_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning user ids: %w", err)
	}
	return ids, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func decodeRecord(data []byte) (*domain.UserRecord, error) {
	var rec domain.UserRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	rec.Normalize()
	return &rec, nil
}

var _ Store = (*PostgresStore)(nil)

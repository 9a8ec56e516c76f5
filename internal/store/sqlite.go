package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/justestif/go-shorts-feed/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	revision   INTEGER NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps records as JSON in a single-table SQLite database.
// The pool holds one connection, so transactions are serialized.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens the database at path with WAL and a busy timeout, and creates the schema.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get returns the stored record.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*domain.UserRecord, error) {
	rec, err := sqliteRead(s.db.QueryRowContext(ctx, `SELECT data FROM users WHERE id = ?`, userID))
	if err != nil {
		return nil, fmt.Errorf("querying user %s: %w", userID, err)
	}
	if rec == nil {
		return nil, notFound(userID)
	}
	return rec, nil
}

// Mutate applies fn to an existing record.
func (s *SQLiteStore) Mutate(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(ctx, userID, false, fn)
}

// Upsert applies fn, creating the record if needed.
func (s *SQLiteStore) Upsert(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	return s.mutate(ctx, userID, true, fn)
}

func (s *SQLiteStore) mutate(ctx context.Context, userID string, create bool, fn MutateFunc) (*domain.UserRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, writeFailure(userID, err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := sqliteRead(tx.QueryRowContext(ctx, `SELECT data FROM users WHERE id = ?`, userID))
	if err != nil {
		return nil, fmt.Errorf("querying user %s: %w", userID, err)
	}

	next, err := apply(userID, cur, create, fn)
	if err != nil {
		return nil, err
	}

	buf, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encoding user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, data, revision, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			data = excluded.data,
			revision = excluded.revision,
			updated_at = excluded.updated_at`,
		userID, string(buf), next.Revision, next.LastModified.Format(time.RFC3339Nano))
	if err != nil {
		return nil, writeFailure(userID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, writeFailure(userID, err)
	}
	return next, nil
}

// sqliteRead decodes the data column, returning nil when there is no row.
func sqliteRead(row *sql.Row) (*domain.UserRecord, error) {
	var data string
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec domain.UserRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	rec.Normalize()
	return &rec, nil
}

// IDs lists stored user ids in sorted order.
func (s *SQLiteStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)

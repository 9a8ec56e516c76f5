package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/justestif/go-shorts-feed/internal/domain"
)

func TestFileStore_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Store {
		s, err := OpenFileStore(filepath.Join(t.TempDir(), "users_data.json"))
		if err != nil {
			t.Fatalf("OpenFileStore() error = %v", err)
		}
		return s
	})
}

func TestFileStore_Reload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "users_data.json")

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore() error = %v", err)
	}
	if _, err := s.Upsert(ctx, "42", func(r *domain.UserRecord) error {
		r.WatchedVideos.Add("v1")
		r.TotalCycles = 3
		return nil
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore() reopen error = %v", err)
	}
	got, err := reopened.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.WatchedVideos.Has("v1") || got.TotalCycles != 3 || got.Revision != 1 {
		t.Errorf("reloaded record = watched %v cycles %d revision %d", got.WatchedVideos, got.TotalCycles, got.Revision)
	}
}

func TestFileStore_WriteFailurePreservesState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users_data.json")

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore() error = %v", err)
	}
	if _, err := s.Upsert(ctx, "42", func(r *domain.UserRecord) error {
		r.Likes.Add("v1")
		return nil
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// A non-empty directory at the destination makes the atomic rename fail.
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := os.MkdirAll(filepath.Join(path, "blocker"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	_, err = s.Mutate(ctx, "42", func(r *domain.UserRecord) error {
		r.Likes.Add("v2")
		return nil
	})
	if !errors.Is(err, domain.ErrWriteFailure) {
		t.Fatalf("Mutate() error = %v, want ErrWriteFailure", err)
	}

	got, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Likes.Has("v2") || got.Revision != 1 {
		t.Errorf("failed write leaked: likes %v revision %d", got.Likes, got.Revision)
	}

	_, err = s.Upsert(ctx, "43", func(r *domain.UserRecord) error { return nil })
	if !errors.Is(err, domain.ErrWriteFailure) {
		t.Fatalf("Upsert() error = %v, want ErrWriteFailure", err)
	}
	if _, err := s.Get(ctx, "43"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() of failed upsert error = %v, want ErrNotFound", err)
	}
}

func TestOpenFileStore_RejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users_data.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := OpenFileStore(path); err == nil {
		t.Fatal("OpenFileStore() accepted a corrupt document")
	}
}

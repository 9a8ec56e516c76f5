package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// Config selects and configures a backend.
type Config struct {
	Backend     string      `yaml:"backend"`
	Path        string      `yaml:"path"` // file document, badger directory or sqlite database
	DatabaseURL string      `yaml:"databaseUrl"`
	Redis       RedisConfig `yaml:"redis"`
}

// Open creates the configured backend wrapped with instrumentation.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)

	backend := cfg.Backend
	if backend == "" {
		backend = BackendMemory
	}

	switch backend {
	case BackendMemory:
		s = NewMemoryStore()
	case BackendFile:
		s, err = OpenFileStore(defaultPath(cfg.Path, "users_data.json"))
	case BackendBadger:
		s, err = OpenBadgerStore(defaultPath(cfg.Path, "badger"))
	case BackendSQLite:
		s, err = OpenSQLiteStore(ctx, defaultPath(cfg.Path, "shorts.db"))
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres backend requires a database URL")
		}
		s, err = NewPostgresStore(ctx, cfg.DatabaseURL)
	case BackendRedis:
		s, err = NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", backend, err)
	}
	return Instrument(s, backend), nil
}

func defaultPath(path, name string) string {
	if path != "" {
		return path
	}
	return filepath.Join("data", name)
}

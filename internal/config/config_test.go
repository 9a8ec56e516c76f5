package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/justestif/go-shorts-feed/internal/maintenance"
	"github.com/justestif/go-shorts-feed/internal/store"
)

var envKeys = []string{
	"SHORTS_ADDR", "SHORTS_RATE_LIMIT", "SHORTS_STORE_BACKEND", "SHORTS_STORE_PATH", "DATABASE_URL",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "SHORTS_CATALOG_PATH", "SHORTS_CATALOG_WATCH",
	"OIDC_PROVIDER", "OIDC_CLIENT_ID", "SHORTS_DEV_AUTH", "SHORTS_DEV_USER", "SHORTS_PRUNE_SCHEDULE",
	"SHORTS_IDLE_SCHEDULE", "SHORTS_IDLE_TIMEOUT", "LOG_LEVEL", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_SERVICE_NAME",
}

// clearEnv blanks every variable Load reads; empty values are treated as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHORTS_DEV_AUTH", "true")
	t.Setenv("SHORTS_STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/shorts")
	t.Setenv("SHORTS_IDLE_TIMEOUT", "45m")
	t.Setenv("SHORTS_RATE_LIMIT", "-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Default()
	want.Auth.DevAuth = true
	want.Store.Backend = store.BackendPostgres
	want.Store.DatabaseURL = "postgres://localhost/shorts"
	want.Maintenance.IdleTimeout = 45 * time.Minute
	want.Server.RateLimit = -1
	if diff := cmp.Diff(want, *cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server:
  addr: ":9000"
store:
  backend: redis
  redis:
    addr: "redis:6379"
    db: 2
catalog:
  path: /srv/videos.json
  watch: false
auth:
  issuer: https://id.example.com
  clientId: shorts
maintenance:
  schedule:
    prune: "@daily"
    idle: ""
  idleTimeout: 1h
log:
  level: debug
`)
	t.Setenv("SHORTS_ADDR", ":9100")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9100" {
		t.Errorf("Server.Addr = %q, want env override :9100", cfg.Server.Addr)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
	wantStore := store.Config{Backend: store.BackendRedis, Redis: store.RedisConfig{Addr: "redis:6379", DB: 2}}
	if diff := cmp.Diff(wantStore, cfg.Store); diff != "" {
		t.Errorf("Store mismatch (-want +got):\n%s", diff)
	}
	wantMaint := MaintenanceConfig{
		Schedule:    maintenance.Schedule{Prune: "@daily"},
		Cooldown:    maintenance.DefaultCooldown,
		IdleTimeout: time.Hour,
	}
	if diff := cmp.Diff(wantMaint, cfg.Maintenance); diff != "" {
		t.Errorf("Maintenance mismatch (-want +got):\n%s", diff)
	}
	if cfg.Catalog.Watch || cfg.Catalog.Path != "/srv/videos.json" {
		t.Errorf("Catalog = %+v", cfg.Catalog)
	}
	if cfg.Auth.Issuer != "https://id.example.com" || cfg.Auth.ClientID != "shorts" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		file    string
		wantErr error
	}{
		{
			name:    "no identity",
			env:     map[string]string{},
			wantErr: ErrNoIdentity,
		},
		{
			name:    "postgres without url",
			env:     map[string]string{"SHORTS_DEV_AUTH": "1", "SHORTS_STORE_BACKEND": "postgres"},
			wantErr: ErrMissingDatabaseURL,
		},
		{
			name:    "redis without addr",
			env:     map[string]string{"SHORTS_DEV_AUTH": "1", "SHORTS_STORE_BACKEND": "redis"},
			wantErr: ErrMissingRedisAddr,
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"SHORTS_DEV_AUTH": "1", "SHORTS_STORE_BACKEND": "mongo"},
			wantErr: ErrUnknownBackend,
		},
		{
			name:    "empty catalog path",
			env:     map[string]string{"SHORTS_DEV_AUTH": "1"},
			file:    "catalog:\n  path: \"\"\n",
			wantErr: ErrMissingCatalogPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}

			_, err := Load(path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "bad bool", env: map[string]string{"SHORTS_DEV_AUTH": "sometimes"}},
		{name: "bad duration", env: map[string]string{"SHORTS_DEV_AUTH": "1", "SHORTS_IDLE_TIMEOUT": "soon"}},
		{name: "bad int", env: map[string]string{"SHORTS_DEV_AUTH": "1", "SHORTS_RATE_LIMIT": "lots"}},
		{name: "bad schedule", env: map[string]string{"SHORTS_DEV_AUTH": "1", "SHORTS_PRUNE_SCHEDULE": "hourly"}},
		{name: "unknown field", env: map[string]string{"SHORTS_DEV_AUTH": "1"}, file: "servr:\n  addr: x\n"},
		{name: "negative idle", env: map[string]string{"SHORTS_DEV_AUTH": "1"}, file: "maintenance:\n  idleTimeout: -1m\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHORTS_DEV_AUTH", "1")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() error = nil, want error for missing file")
	}
}

// Package config loads shorts-feed configuration from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/justestif/go-shorts-feed/internal/maintenance"
	"github.com/justestif/go-shorts-feed/internal/store"
)

// Sentinel errors returned by Validate.
var (
	// ErrUnknownBackend is returned when store.backend names no known backend.
	ErrUnknownBackend = errors.New("unknown store backend")

	// ErrMissingDatabaseURL is returned when the postgres backend has no DATABASE_URL.
	ErrMissingDatabaseURL = errors.New("missing DATABASE_URL environment variable")

	// ErrMissingRedisAddr is returned when the redis backend has no REDIS_ADDR.
	ErrMissingRedisAddr = errors.New("missing REDIS_ADDR environment variable")

	// ErrMissingCatalogPath is returned when no catalog document is configured.
	ErrMissingCatalogPath = errors.New("missing SHORTS_CATALOG_PATH environment variable")

	// ErrNoIdentity is returned when neither OIDC nor development identity is configured.
	ErrNoIdentity = errors.New("no identity provider: set OIDC_PROVIDER or SHORTS_DEV_AUTH")
)

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       store.Config      `yaml:"store"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Auth        AuthConfig        `yaml:"auth"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Log         LogConfig         `yaml:"log"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	RateLimit int    `yaml:"rateLimit"` // requests per minute per IP; negative disables
}

// CatalogConfig locates the video catalog document.
type CatalogConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// AuthConfig selects how callers are identified.
type AuthConfig struct {
	Issuer   string `yaml:"issuer"`
	ClientID string `yaml:"clientId"`

	// DevAuth trusts identity headers. DevUser is assumed when none is sent.
	DevAuth bool   `yaml:"devAuth"`
	DevUser string `yaml:"devUser"`
}

// MaintenanceConfig configures background sweeps.
type MaintenanceConfig struct {
	Schedule    maintenance.Schedule `yaml:"schedule"`
	Cooldown    time.Duration        `yaml:"cooldown"`
	IdleTimeout time.Duration        `yaml:"idleTimeout"` // zero disables idle-session closing
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig configures tracing export. An empty endpoint disables export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:      "127.0.0.1:8080",
			RateLimit: 600,
		},
		Store: store.Config{
			Backend: store.BackendFile,
		},
		Catalog: CatalogConfig{
			Path:  "videos.json",
			Watch: true,
		},
		Maintenance: MaintenanceConfig{
			Schedule: maintenance.DefaultSchedule(),
			Cooldown: maintenance.DefaultCooldown,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "shorts-feed",
			SampleRatio: 1,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if non-empty),
// and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config file %s: %w", path, err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from the environment. Unset or empty variables leave the field alone.
func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "SHORTS_ADDR")
	setString(&c.Store.Backend, "SHORTS_STORE_BACKEND")
	setString(&c.Store.Path, "SHORTS_STORE_PATH")
	setString(&c.Store.DatabaseURL, "DATABASE_URL")
	setString(&c.Store.Redis.Addr, "REDIS_ADDR")
	setString(&c.Store.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Catalog.Path, "SHORTS_CATALOG_PATH")
	setString(&c.Auth.Issuer, "OIDC_PROVIDER")
	setString(&c.Auth.ClientID, "OIDC_CLIENT_ID")
	setString(&c.Auth.DevUser, "SHORTS_DEV_USER")
	setString(&c.Maintenance.Schedule.Prune, "SHORTS_PRUNE_SCHEDULE")
	setString(&c.Maintenance.Schedule.Idle, "SHORTS_IDLE_SCHEDULE")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Telemetry.ServiceName, "OTEL_SERVICE_NAME")

	if err := setInt(&c.Server.RateLimit, "SHORTS_RATE_LIMIT"); err != nil {
		return err
	}
	if err := setInt(&c.Store.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	if err := setBool(&c.Auth.DevAuth, "SHORTS_DEV_AUTH"); err != nil {
		return err
	}
	if err := setBool(&c.Catalog.Watch, "SHORTS_CATALOG_WATCH"); err != nil {
		return err
	}
	if err := setDuration(&c.Maintenance.IdleTimeout, "SHORTS_IDLE_TIMEOUT"); err != nil {
		return err
	}
	return nil
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case store.BackendMemory, store.BackendFile, store.BackendBadger, store.BackendSQLite:
	case store.BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	case store.BackendRedis:
		if c.Store.Redis.Addr == "" {
			return ErrMissingRedisAddr
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
	}

	if c.Catalog.Path == "" {
		return ErrMissingCatalogPath
	}
	if c.Auth.Issuer == "" && !c.Auth.DevAuth {
		return ErrNoIdentity
	}
	if c.Maintenance.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative: %s", c.Maintenance.IdleTimeout)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0, 1]: %v", c.Telemetry.SampleRatio)
	}
	if err := c.Maintenance.Schedule.Validate(); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = i
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = d
	return nil
}

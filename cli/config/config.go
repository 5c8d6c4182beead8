// Package config provides configuration management for the chronicle CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name
const ConfigFileName = "chronicle.yaml"

// EnvDatabaseURL overrides database.url when set.
const EnvDatabaseURL = "CHRONICLE_DATABASE_URL"

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Supported snapshot codecs.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Config represents the chronicle CLI configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Snapshots configures how aggregate snapshots are encoded and retained
	Snapshots SnapshotConfig `yaml:"snapshots"`

	// Subscription configures tail
	Subscription SubscriptionConfig `yaml:"subscription"`

	// Observability configures metrics and tracing
	Observability ObservabilityConfig `yaml:"observability"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	// Driver is the backend: postgres (lib/pq), pgx, sqlite or memory
	Driver string `yaml:"driver"`

	// URL is the connection string, or the database file for sqlite
	URL string `yaml:"url,omitempty"`

	// Schema is the PostgreSQL schema to use
	Schema string `yaml:"schema,omitempty"`
}

// SnapshotConfig contains snapshot settings
type SnapshotConfig struct {
	// Every takes a snapshot each time a save crosses a multiple of Every
	Every int64 `yaml:"every"`

	// Keep is the number of snapshots retained per aggregate, 0 keeps all
	Keep int `yaml:"keep"`

	// Codec is json or msgpack
	Codec string `yaml:"codec"`

	// Compress wraps the codec with snappy
	Compress bool `yaml:"compress"`
}

// SubscriptionConfig contains subscription settings
type SubscriptionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	GapTimeout   time.Duration `yaml:"gap_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// ObservabilityConfig contains metrics and tracing settings
type ObservabilityConfig struct {
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090"
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// Trace prints spans to stderr
	Trace bool `yaml:"trace"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Database: DatabaseConfig{
			Driver: DriverPostgres,
			URL:    "${" + EnvDatabaseURL + "}",
			Schema: "chronicle",
		},
		Snapshots: SnapshotConfig{
			Every: 100,
			Keep:  3,
			Codec: CodecJSON,
		},
		Subscription: SubscriptionConfig{
			PollInterval: 100 * time.Millisecond,
			GapTimeout:   2 * time.Second,
			MaxRetries:   3,
		},
	}
}

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile loads configuration from a specific file path. Missing fields keep
// their defaults. Environment variables in database.url are expanded and
// CHRONICLE_DATABASE_URL replaces the URL entirely.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// Resolve loads the config file at path, or searches upwards from dir when
// path is empty. Without a file the defaults are used.
func Resolve(path, dir string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}

	_, cfg, err := FindConfig(dir)
	if errors.Is(err, os.ErrNotExist) {
		cfg = DefaultConfig()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return cfg, err
}

// ApplyEnv expands environment references in the database URL and applies
// the CHRONICLE_DATABASE_URL override.
func (c *Config) ApplyEnv() {
	if url := os.Getenv(EnvDatabaseURL); url != "" {
		c.Database.URL = url
		return
	}
	c.Database.URL = os.ExpandEnv(c.Database.URL)
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	return c.SaveFile(filepath.Join(dir, ConfigFileName))
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var errs []string

	switch c.Database.Driver {
	case "":
		errs = append(errs, "database.driver is required")
	case DriverPostgres, DriverPgx, DriverSQLite:
		if c.Database.URL == "" {
			errs = append(errs, fmt.Sprintf("database.url is required for %s driver", c.Database.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, "database.driver must be one of postgres, pgx, sqlite, memory")
	}

	switch c.Snapshots.Codec {
	case "", CodecJSON, CodecMsgpack:
	default:
		errs = append(errs, "snapshots.codec must be json or msgpack")
	}

	if c.Snapshots.Every < 0 {
		errs = append(errs, "snapshots.every must not be negative")
	}
	if c.Snapshots.Keep < 0 {
		errs = append(errs, "snapshots.keep must not be negative")
	}
	if c.Subscription.MaxRetries < 0 {
		errs = append(errs, "subscription.max_retries must not be negative")
	}

	return errs
}

// GenerateYAML generates YAML content with comments
func GenerateYAML(cfg *Config) string {
	return `# Chronicle configuration file

version: "1"

database:
  # Driver: postgres, pgx, sqlite or memory
  driver: "` + cfg.Database.Driver + `"

  # Connection URL, or the database file for sqlite.
  # ` + EnvDatabaseURL + ` overrides this value.
  url: "` + cfg.Database.URL + `"

  # PostgreSQL schema
  schema: "` + cfg.Database.Schema + `"

snapshots:
  # Snapshot every N events (0 disables automatic snapshots)
  every: ` + fmt.Sprint(cfg.Snapshots.Every) + `

  # Snapshots kept per aggregate (0 keeps all)
  keep: ` + fmt.Sprint(cfg.Snapshots.Keep) + `

  # State codec: json or msgpack
  codec: "` + cfg.Snapshots.Codec + `"
  compress: ` + fmt.Sprint(cfg.Snapshots.Compress) + `

subscription:
  poll_interval: ` + cfg.Subscription.PollInterval.String() + `
  gap_timeout: ` + cfg.Subscription.GapTimeout.String() + `
  max_retries: ` + fmt.Sprint(cfg.Subscription.MaxRetries) + `

observability:
  # Serve Prometheus metrics from tail, e.g. ":9090"
  metrics_addr: "` + cfg.Observability.MetricsAddr + `"
  trace: ` + fmt.Sprint(cfg.Observability.Trace) + `
`
}

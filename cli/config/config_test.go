package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "chronicle", cfg.Database.Schema)
	assert.Equal(t, int64(100), cfg.Snapshots.Every)
	assert.Equal(t, CodecJSON, cfg.Snapshots.Codec)
	assert.Equal(t, 100*time.Millisecond, cfg.Subscription.PollInterval)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*Config)
		wantErrors int
	}{
		{
			name:       "valid default config with postgres URL",
			modify:     func(c *Config) { c.Database.URL = "postgres://localhost/db" },
			wantErrors: 0,
		},
		{
			name:       "valid memory driver",
			modify:     func(c *Config) { c.Database.Driver = DriverMemory; c.Database.URL = "" },
			wantErrors: 0,
		},
		{
			name:       "valid sqlite driver",
			modify:     func(c *Config) { c.Database.Driver = DriverSQLite; c.Database.URL = "events.db" },
			wantErrors: 0,
		},
		{
			name:       "missing driver",
			modify:     func(c *Config) { c.Database.Driver = "" },
			wantErrors: 1,
		},
		{
			name:       "invalid driver",
			modify:     func(c *Config) { c.Database.Driver = "mysql" },
			wantErrors: 1,
		},
		{
			name:       "pgx without URL",
			modify:     func(c *Config) { c.Database.Driver = DriverPgx; c.Database.URL = "" },
			wantErrors: 1,
		},
		{
			name: "invalid snapshot settings",
			modify: func(c *Config) {
				c.Database.URL = "postgres://localhost/db"
				c.Snapshots.Codec = "gob"
				c.Snapshots.Every = -1
				c.Snapshots.Keep = -1
			},
			wantErrors: 3,
		},
		{
			name: "negative retries",
			modify: func(c *Config) {
				c.Database.URL = "postgres://localhost/db"
				c.Subscription.MaxRetries = -1
			},
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			errs := cfg.Validate()
			assert.Equal(t, tt.wantErrors, len(errs), "errors: %v", errs)
		})
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Database.URL = "postgres://localhost/test"
	cfg.Subscription.GapTimeout = 5 * time.Second
	cfg.Snapshots.Compress = true

	require.NoError(t, cfg.Save(tmpDir))

	_, err := os.Stat(filepath.Join(tmpDir, ConfigFileName))
	require.NoError(t, err)

	loaded, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, cfg.Database.URL, loaded.Database.URL)
	assert.Equal(t, 5*time.Second, loaded.Subscription.GapTimeout)
	assert.True(t, loaded.Snapshots.Compress)
}

func TestLoadFile(t *testing.T) {
	write := func(t *testing.T, content string) string {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	t.Run("missing fields keep defaults", func(t *testing.T) {
		t.Setenv(EnvDatabaseURL, "")
		path := write(t, "database:\n  driver: sqlite\n  url: events.db\nsubscription:\n  poll_interval: 250ms\n")

		cfg, err := LoadFile(path)
		require.NoError(t, err)

		assert.Equal(t, DriverSQLite, cfg.Database.Driver)
		assert.Equal(t, "events.db", cfg.Database.URL)
		assert.Equal(t, 250*time.Millisecond, cfg.Subscription.PollInterval)
		assert.Equal(t, 2*time.Second, cfg.Subscription.GapTimeout)
		assert.Equal(t, int64(100), cfg.Snapshots.Every)
	})

	t.Run("expands environment references", func(t *testing.T) {
		t.Setenv(EnvDatabaseURL, "")
		t.Setenv("CHRONICLE_TEST_HOST", "db.internal")
		path := write(t, "database:\n  url: postgres://${CHRONICLE_TEST_HOST}/events\n")

		cfg, err := LoadFile(path)
		require.NoError(t, err)

		assert.Equal(t, "postgres://db.internal/events", cfg.Database.URL)
	})

	t.Run("environment override wins", func(t *testing.T) {
		t.Setenv(EnvDatabaseURL, "postgres://override/events")
		path := write(t, "database:\n  url: postgres://file/events\n")

		cfg, err := LoadFile(path)
		require.NoError(t, err)

		assert.Equal(t, "postgres://override/events", cfg.Database.URL)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := write(t, "database: [")

		_, err := LoadFile(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestResolve(t *testing.T) {
	t.Run("falls back to defaults", func(t *testing.T) {
		t.Setenv(EnvDatabaseURL, "postgres://env/events")

		cfg, err := Resolve("", t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, DriverPostgres, cfg.Database.Driver)
		assert.Equal(t, "postgres://env/events", cfg.Database.URL)
	})

	t.Run("explicit path", func(t *testing.T) {
		t.Setenv(EnvDatabaseURL, "")
		dir := t.TempDir()
		cfg := DefaultConfig()
		cfg.Database.Driver = DriverMemory
		require.NoError(t, cfg.Save(dir))

		loaded, err := Resolve(filepath.Join(dir, ConfigFileName), "")
		require.NoError(t, err)

		assert.Equal(t, DriverMemory, loaded.Database.Driver)
	})
}

func TestExists(t *testing.T) {
	tmpDir := t.TempDir()

	assert.False(t, Exists(tmpDir))
	require.NoError(t, DefaultConfig().Save(tmpDir))
	assert.True(t, Exists(tmpDir))
}

func TestFindConfig(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Database.Driver = DriverSQLite
	cfg.Database.URL = "root.db"
	require.NoError(t, cfg.Save(tmpDir))

	nested := filepath.Join(tmpDir, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	foundDir, foundCfg, err := FindConfig(nested)
	require.NoError(t, err)

	assert.Equal(t, tmpDir, foundDir)
	assert.Equal(t, "root.db", foundCfg.Database.URL)
}

func TestGenerateYAML(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	cfg := DefaultConfig()
	cfg.Database.Driver = DriverSQLite
	cfg.Database.URL = "events.db"
	cfg.Observability.MetricsAddr = ":9090"

	content := GenerateYAML(cfg)

	assert.Contains(t, content, "# Chronicle configuration file")
	assert.Contains(t, content, `driver: "sqlite"`)
	assert.Contains(t, content, EnvDatabaseURL)
	assert.Contains(t, content, "poll_interval: 100ms")

	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	parsed, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "events.db", parsed.Database.URL)
	assert.Equal(t, ":9090", parsed.Observability.MetricsAddr)
	assert.Equal(t, int64(100), parsed.Snapshots.Every)
}

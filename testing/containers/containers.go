// Package containers provides PostgreSQL for integration tests.
//
// StartPostgres uses TEST_DATABASE_URL when it is set, so CI and local
// docker-compose setups reuse a running server. Otherwise it starts a
// throwaway container with testcontainers-go. Tests are skipped in -short
// mode and when neither a server nor Docker is available.
package containers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DatabaseURLEnv names the variable holding an existing server's URL.
const DatabaseURLEnv = "TEST_DATABASE_URL"

// PostgresContainer is a reachable PostgreSQL server, either started for the
// test or provided through TEST_DATABASE_URL.
type PostgresContainer struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	connStr  string
}

// PostgresOption configures a PostgreSQL container.
type PostgresOption func(*postgresConfig)

type postgresConfig struct {
	image        string
	database     string
	user         string
	password     string
	startTimeout time.Duration
}

// WithPostgresImage sets the PostgreSQL Docker image.
func WithPostgresImage(image string) PostgresOption {
	return func(c *postgresConfig) {
		c.image = image
	}
}

// WithPostgresDatabase sets the database name.
func WithPostgresDatabase(database string) PostgresOption {
	return func(c *postgresConfig) {
		c.database = database
	}
}

// WithPostgresUser sets the database user.
func WithPostgresUser(user string) PostgresOption {
	return func(c *postgresConfig) {
		c.user = user
	}
}

// WithPostgresPassword sets the database password.
func WithPostgresPassword(password string) PostgresOption {
	return func(c *postgresConfig) {
		c.password = password
	}
}

// WithStartTimeout bounds how long the container may take to accept connections.
func WithStartTimeout(d time.Duration) PostgresOption {
	return func(c *postgresConfig) {
		c.startTimeout = d
	}
}

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// defaultPostgresConfig reads the container settings from the environment.
//
// Environment variables:
//   - POSTGRES_IMAGE: Docker image (default: postgres:17-alpine)
//   - POSTGRES_DB: Database name (default: chronicle_test)
//   - POSTGRES_USER: Username (default: postgres)
//   - POSTGRES_PASSWORD: Password (default: postgres)
func defaultPostgresConfig() *postgresConfig {
	return &postgresConfig{
		image:        getEnvOrDefault("POSTGRES_IMAGE", "postgres:17-alpine"),
		database:     getEnvOrDefault("POSTGRES_DB", "chronicle_test"),
		user:         getEnvOrDefault("POSTGRES_USER", "postgres"),
		password:     getEnvOrDefault("POSTGRES_PASSWORD", "postgres"),
		startTimeout: 60 * time.Second,
	}
}

// StartPostgres returns a reachable PostgreSQL server or skips the test.
func StartPostgres(t *testing.T, opts ...PostgresOption) *PostgresContainer {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping PostgreSQL integration test in short mode")
	}

	if url := os.Getenv(DatabaseURLEnv); url != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := waitForPostgres(ctx, url); err != nil {
			t.Skipf("PostgreSQL at %s not available: %v", DatabaseURLEnv, err)
		}
		return &PostgresContainer{connStr: url}
	}

	cfg := defaultPostgresConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgC, err := testcontainers.Run(
		ctx, cfg.image,
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_DB":       cfg.database,
			"POSTGRES_USER":     cfg.user,
			"POSTGRES_PASSWORD": cfg.password,
		}),
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(cfg.startTimeout),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	if err != nil {
		t.Skipf("PostgreSQL container could not start: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("containers: failed to get host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("containers: failed to get port: %v", err)
	}

	container := &PostgresContainer{
		Host:     host,
		Port:     port.Port(),
		Database: cfg.database,
		User:     cfg.user,
		Password: cfg.password,
	}
	t.Logf("postgres: %s:%s", container.Host, container.Port)

	return container
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresContainer) ConnectionString() string {
	if c.connStr != "" {
		return c.connStr
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// DB returns a database connection using the pgx driver.
func (c *PostgresContainer) DB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("pgx", c.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("containers: failed to open connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("containers: failed to ping database: %w", err)
	}

	return db, nil
}

var schemaCounter atomic.Uint64

// UniqueSchema returns a schema name that no other test in the process uses.
func UniqueSchema(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", strings.ToLower(prefix), time.Now().UnixNano(), schemaCounter.Add(1))
}

// DropSchema drops a test schema.
func DropSchema(ctx context.Context, db *sql.DB, schema string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(schema)))
	return err
}

// waitForPostgres waits for PostgreSQL to be ready.
func waitForPostgres(ctx context.Context, connStr string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		db, err := sql.Open("pgx", connStr)
		if err == nil {
			err = db.PingContext(ctx)
			db.Close()
			if err == nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// IntegrationTest bundles a server, a connection and a private schema that is
// dropped when the test ends.
type IntegrationTest struct {
	t         *testing.T
	container *PostgresContainer
	db        *sql.DB
	schema    string
}

// IntegrationTestOption configures an integration test.
type IntegrationTestOption func(*integrationTestConfig)

type integrationTestConfig struct {
	schemaPrefix string
	postgres     []PostgresOption
}

// WithSchemaPrefix sets the schema prefix.
func WithSchemaPrefix(prefix string) IntegrationTestOption {
	return func(c *integrationTestConfig) {
		c.schemaPrefix = prefix
	}
}

// WithPostgresOptions passes options to StartPostgres.
func WithPostgresOptions(opts ...PostgresOption) IntegrationTestOption {
	return func(c *integrationTestConfig) {
		c.postgres = append(c.postgres, opts...)
	}
}

// NewIntegrationTest creates a new integration test environment.
func NewIntegrationTest(t *testing.T, opts ...IntegrationTestOption) *IntegrationTest {
	t.Helper()

	cfg := &integrationTestConfig{schemaPrefix: "test"}
	for _, opt := range opts {
		opt(cfg)
	}

	container := StartPostgres(t, cfg.postgres...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := container.DB(ctx)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	it := &IntegrationTest{
		t:         t,
		container: container,
		db:        db,
		schema:    UniqueSchema(cfg.schemaPrefix),
	}

	t.Cleanup(func() {
		if err := DropSchema(context.Background(), db, it.schema); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", it.schema, err)
		}
		db.Close()
	})

	return it
}

// DB returns the database connection.
func (it *IntegrationTest) DB() *sql.DB {
	return it.db
}

// Schema returns the test schema name. The schema itself is created by
// whatever runs the migrations.
func (it *IntegrationTest) Schema() string {
	return it.schema
}

// Container returns the PostgreSQL server.
func (it *IntegrationTest) Container() *PostgresContainer {
	return it.container
}

// ConnectionString returns the server connection string.
func (it *IntegrationTest) ConnectionString() string {
	return it.container.ConnectionString()
}

// Exec executes a SQL statement and fails the test on error.
func (it *IntegrationTest) Exec(query string, args ...interface{}) {
	it.t.Helper()
	if _, err := it.db.Exec(query, args...); err != nil {
		it.t.Fatalf("Failed to execute SQL: %v", err)
	}
}

// QueryInt runs a query returning one integer and fails the test on error.
func (it *IntegrationTest) QueryInt(query string, args ...interface{}) int64 {
	it.t.Helper()
	var n int64
	if err := it.db.QueryRow(query, args...).Scan(&n); err != nil {
		it.t.Fatalf("Failed to execute query: %v", err)
	}
	return n
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/AshkanYarmoradi/go-chronicle/adapters/memory"
	"github.com/AshkanYarmoradi/go-chronicle/adapters/postgres"
	"github.com/AshkanYarmoradi/go-chronicle/adapters/sqlite"
	"github.com/AshkanYarmoradi/go-chronicle/cli/config"
	"github.com/AshkanYarmoradi/go-chronicle/middleware/metrics"
	"github.com/AshkanYarmoradi/go-chronicle/middleware/tracing"
	"github.com/AshkanYarmoradi/go-chronicle/serializer/compressed"
	"github.com/AshkanYarmoradi/go-chronicle/serializer/msgpack"
	"github.com/spf13/cobra"
)

// connectTimeout bounds the initial ping so bad URLs fail fast.
const connectTimeout = 5 * time.Second

// Backend combines the adapter interfaces needed by CLI commands.
// Every bundled adapter implements all of them.
type Backend interface {
	adapters.EventStoreAdapter
	adapters.SnapshotAdapter
	adapters.CheckpointAdapter
	adapters.HealthChecker
	adapters.StatsAdapter
}

var (
	_ Backend = (*memory.MemoryAdapter)(nil)
	_ Backend = (*postgres.PostgresAdapter)(nil)
	_ Backend = (*sqlite.SQLiteAdapter)(nil)
)

// envOptions selects what openEnv wires around the backend.
type envOptions struct {
	// listen enables LISTEN/NOTIFY on PostgreSQL
	listen  bool
	metrics *metrics.Metrics
	tracer  *tracing.Tracer
}

// Env is an opened backend plus the event store built on it.
type Env struct {
	Config  *config.Config
	Backend Backend
	Store   *chronicle.EventStore
	Logger  *slog.Logger
}

// Close releases the backend.
func (e *Env) Close() error {
	return e.Store.Close()
}

// openEnv loads the configuration selected by the command's flags and opens
// the configured backend.
func openEnv(cmd *cobra.Command, opts envOptions) (*Env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cmd)
	backend, err := openBackend(cmd.Context(), cfg.Database, opts.listen, logger)
	if err != nil {
		return nil, err
	}

	var (
		eventStore    adapters.EventStoreAdapter = backend
		snapshotStore adapters.SnapshotAdapter   = backend
	)
	if opts.tracer != nil {
		eventStore = opts.tracer.WrapEventStore(eventStore)
		snapshotStore = opts.tracer.WrapSnapshotStore(snapshotStore)
	}
	if opts.metrics != nil {
		eventStore = opts.metrics.WrapEventStore(eventStore)
		snapshotStore = opts.metrics.WrapSnapshotStore(snapshotStore)
	}

	return &Env{
		Config:  cfg,
		Backend: backend,
		Store: chronicle.New(eventStore,
			chronicle.WithLogger(logger),
			chronicle.WithSnapshotStore(snapshotStore)),
		Logger: logger,
	}, nil
}

// loadConfig resolves --config, or searches from the working directory, and
// validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Resolve(path, cwd)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// openBackend creates the adapter for the configured driver. PostgreSQL
// connections are pinged so that invalid URLs fail immediately.
func openBackend(ctx context.Context, db config.DatabaseConfig, listen bool, logger *slog.Logger) (Backend, error) {
	switch db.Driver {
	case config.DriverPostgres, config.DriverPgx:
		driver := postgres.DriverPgx
		if db.Driver == config.DriverPostgres {
			driver = postgres.DriverPq
		}

		opts := []postgres.Option{
			postgres.WithDriver(driver),
			postgres.WithLogger(logger),
		}
		if db.Schema != "" {
			opts = append(opts, postgres.WithSchema(db.Schema))
		}
		if listen {
			opts = append(opts, postgres.WithNotifications(db.URL))
		}

		adapter, err := postgres.NewAdapter(db.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres adapter: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ensureContext(ctx), connectTimeout)
		defer cancel()

		if err := adapter.Ping(pingCtx); err != nil {
			_ = adapter.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return adapter, nil

	case config.DriverSQLite:
		adapter, err := sqlite.NewAdapter(db.URL, sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ensureContext(ctx), connectTimeout)
		defer cancel()

		if err := adapter.Ping(pingCtx); err != nil {
			_ = adapter.Close()
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return adapter, nil

	case config.DriverMemory:
		return memory.NewAdapter(), nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", db.Driver)
	}
}

// newLogger writes structured logs to stderr. --verbose lowers the level to
// debug.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// ensureContext returns the provided context or a background context if nil.
func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// stateCodec returns the codec that produced a snapshot with the given
// encoding. An empty encoding falls back to the configured codec.
func stateCodec(encoding string, cfg config.SnapshotConfig) (chronicle.StateCodec, error) {
	if encoding == "" {
		encoding = cfg.Codec
		if cfg.Compress {
			encoding += compressed.Suffix
		}
	}

	base, snappy := strings.CutSuffix(encoding, compressed.Suffix)

	var codec chronicle.StateCodec
	switch base {
	case "", config.CodecJSON:
		codec = chronicle.JSONStateCodec{}
	case config.CodecMsgpack:
		codec = msgpack.StateCodec{}
	default:
		return nil, fmt.Errorf("unknown snapshot encoding: %s", encoding)
	}

	if snappy {
		codec = compressed.New(codec)
	}
	return codec, nil
}

// decodeState renders snapshot state as indented JSON whatever codec
// produced it.
func decodeState(snap *adapters.Snapshot, cfg config.SnapshotConfig) (string, error) {
	codec, err := stateCodec(snap.Encoding, cfg)
	if err != nil {
		return "", err
	}

	var state interface{}
	if err := codec.Decode(snap.State, &state); err != nil {
		return "", fmt.Errorf("failed to decode snapshot state: %w", err)
	}

	out, err := json.MarshalIndent(normalize(state), "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// normalize converts msgpack's map[interface{}]interface{} values into
// JSON-encodable maps.
func normalize(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(v))
		for k, val := range v {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case map[string]interface{}:
		for k, val := range v {
			v[k] = normalize(val)
		}
		return v
	case []interface{}:
		for i, val := range v {
			v[i] = normalize(val)
		}
		return v
	default:
		return v
	}
}

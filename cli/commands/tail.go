package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
	"github.com/AshkanYarmoradi/go-chronicle/cli/styles"
	"github.com/AshkanYarmoradi/go-chronicle/middleware/metrics"
	"github.com/AshkanYarmoradi/go-chronicle/middleware/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// tailSubscription names the handler in metrics and traces.
const tailSubscription = "tail"

// NewTailCommand creates the tail command
func NewTailCommand() *cobra.Command {
	var (
		from          uint64
		checkpoint    string
		eventTypes    []string
		aggregateType string
		limit         int
		output        string
		metricsAddr   string
		trace         bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow new events as they are committed",
		Long: `Follow the global event log and print events as they are committed.

PostgreSQL connections wake up on LISTEN/NOTIFY, other drivers poll.
With --checkpoint the position is stored under that name and a later tail
with the same name resumes after the last printed event.

Examples:
  chronicle tail                           # Events committed from now on
  chronicle tail --from 0                  # Replay everything, then follow
  chronicle tail --checkpoint ops --type OrderPlaced
  chronicle tail --metrics-addr :9090 --trace`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != OutputLine && output != OutputJSON {
				return fmt.Errorf("unknown output format %q: use line or json", output)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = cfg.Observability.MetricsAddr
			}
			if !cmd.Flags().Changed("trace") {
				trace = cfg.Observability.Trace
			}

			ctx, stop := signal.NotifyContext(ensureContext(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := envOptions{listen: true}

			if metricsAddr != "" {
				m, shutdown, err := serveMetrics(metricsAddr)
				if err != nil {
					return err
				}
				defer shutdown()
				opts.metrics = m
				fmt.Fprintln(cmd.ErrOrStderr(), styles.FormatInfo("Serving metrics on http://"+metricsAddr+"/metrics"))
			}

			if trace {
				tracer, shutdown, err := stderrTracer(cmd)
				if err != nil {
					return err
				}
				defer shutdown()
				opts.tracer = tracer
			}

			env, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer env.Close()

			start := from
			if !cmd.Flags().Changed("from") {
				if start, err = env.Store.CurrentSequence(ctx); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			out := cmd.OutOrStdout()
			var printed int
			var handler chronicle.EventHandler = func(ctx context.Context, event chronicle.StoredEvent) error {
				if err := writeEventLine(out, event, output); err != nil {
					return err
				}
				printed++
				if limit > 0 && printed >= limit {
					cancel()
				}
				return nil
			}
			if opts.tracer != nil {
				handler = opts.tracer.WrapHandler(tailSubscription, handler)
			}
			if opts.metrics != nil {
				handler = opts.metrics.WrapHandler(tailSubscription, handler)
			}

			subOpts := []chronicle.SubscriptionOption{
				chronicle.WithPollInterval(env.Config.Subscription.PollInterval),
				chronicle.WithGapTimeout(env.Config.Subscription.GapTimeout),
				chronicle.WithRetry(env.Config.Subscription.MaxRetries, chronicle.DefaultRetryInterval),
				chronicle.OnHandlerError(func(event chronicle.StoredEvent, err error) {
					env.Logger.Error("failed to print event", "sequence", event.GlobalSequence, "error", err)
				}),
			}
			if checkpoint != "" {
				subOpts = append(subOpts, chronicle.WithCheckpoint(checkpoint))
			}
			if aggregateType != "" {
				subOpts = append(subOpts, chronicle.WithAggregateTypeFilter(aggregateType))
			}
			if len(eventTypes) > 0 {
				subOpts = append(subOpts, chronicle.WithEventTypeFilter(eventTypes...))
			}

			sub, err := env.Store.Subscribe(ctx, start, handler, subOpts...)
			if err != nil {
				return err
			}

			select {
			case <-ctx.Done():
			case <-sub.Done():
			}
			sub.Unsubscribe()
			<-sub.Done()

			env.Logger.Debug("tail stopped", "position", sub.Position(), "printed", printed)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&from, "from", 0, "Start after this global sequence (default: the current head)")
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "Store and resume the position under this name")
	cmd.Flags().StringArrayVarP(&eventTypes, "type", "t", nil, "Event type to include (repeatable)")
	cmd.Flags().StringVarP(&aggregateType, "aggregate-type", "a", "", "Only events of this aggregate type")
	cmd.Flags().IntVarP(&limit, "max", "n", 0, "Exit after printing this many events (0 = follow forever)")
	cmd.Flags().StringVarP(&output, "output", "o", OutputLine, "Output format: line or json")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&trace, "trace", false, "Print spans to stderr")

	return cmd
}

// serveMetrics registers chronicle collectors on a private registry and
// serves it on addr.
func serveMetrics(addr string) (*metrics.Metrics, func(), error) {
	m := metrics.New(metrics.WithMetricsServiceName("chronicle-cli"))

	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		return nil, nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, styles.FormatError("metrics server: "+err.Error()))
		}
	}()

	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

// stderrTracer exports spans synchronously to the command's stderr.
func stderrTracer(cmd *cobra.Command) (*tracing.Tracer, func(), error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(cmd.ErrOrStderr()),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("chronicle-cli"),
			semconv.ServiceVersion(Version),
		)),
	)

	return tracing.NewTracer(tracing.WithTracerProvider(tp), tracing.WithServiceName("chronicle-cli")),
		func() { _ = tp.Shutdown(context.Background()) },
		nil
}

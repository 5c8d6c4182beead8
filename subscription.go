package chronicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
)

// EventHandler processes one event delivered by a subscription.
// Returning an error triggers a retry.
type EventHandler func(ctx context.Context, event StoredEvent) error

// EventFilter determines which events should be delivered.
type EventFilter interface {
	// Matches returns true if the event should be delivered.
	Matches(event StoredEvent) bool
}

// EventTypeFilter filters events by type.
type EventTypeFilter struct {
	eventTypes map[string]struct{}
}

// NewEventTypeFilter creates a filter that only matches the specified event types.
func NewEventTypeFilter(eventTypes ...string) *EventTypeFilter {
	f := &EventTypeFilter{
		eventTypes: make(map[string]struct{}, len(eventTypes)),
	}
	for _, t := range eventTypes {
		f.eventTypes[t] = struct{}{}
	}
	return f
}

// Matches returns true if the event type is in the filter.
func (f *EventTypeFilter) Matches(event StoredEvent) bool {
	_, ok := f.eventTypes[event.Type]
	return ok
}

// AggregateTypeFilter filters events by aggregate type.
type AggregateTypeFilter struct {
	aggregateType string
}

// NewAggregateTypeFilter creates a filter for one aggregate type.
func NewAggregateTypeFilter(aggregateType string) *AggregateTypeFilter {
	return &AggregateTypeFilter{aggregateType: aggregateType}
}

// Matches returns true if the event belongs to the aggregate type.
func (f *AggregateTypeFilter) Matches(event StoredEvent) bool {
	return event.AggregateType == f.aggregateType
}

// CompositeFilter matches events accepted by all of its filters.
type CompositeFilter struct {
	filters []EventFilter
}

// NewCompositeFilter creates a filter requiring every given filter to match.
func NewCompositeFilter(filters ...EventFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// Matches returns true if every filter matches.
func (f *CompositeFilter) Matches(event StoredEvent) bool {
	for _, filter := range f.filters {
		if !filter.Matches(event) {
			return false
		}
	}
	return true
}

// Subscription defaults.
const (
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultMaxRetries    = 3
	DefaultGapTimeout    = 2 * time.Second
	DefaultBatchSize     = 100
)

// SubscriptionOption configures a subscription.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	pollInterval   time.Duration
	retryInterval  time.Duration
	maxRetries     int
	gapTimeout     time.Duration
	batchSize      int
	checkpoint     string
	filters        []EventFilter
	onHandlerError func(event StoredEvent, err error)
}

// WithPollInterval sets how often the log is polled for new events.
func WithPollInterval(d time.Duration) SubscriptionOption {
	return func(c *subscriptionConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithRetry sets how often a failing handler is retried and the pause
// between attempts. Zero retries delivers each event once.
func WithRetry(maxRetries int, interval time.Duration) SubscriptionOption {
	return func(c *subscriptionConfig) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if interval >= 0 {
			c.retryInterval = interval
		}
	}
}

// WithGapTimeout sets how long a hole in the global sequence is awaited
// before it is treated as a rolled-back transaction and skipped.
func WithGapTimeout(d time.Duration) SubscriptionOption {
	return func(c *subscriptionConfig) {
		if d >= 0 {
			c.gapTimeout = d
		}
	}
}

// WithBatchSize sets how many events are read per query. Non-positive
// values select DefaultBatchSize.
func WithBatchSize(n int) SubscriptionOption {
	return func(c *subscriptionConfig) {
		c.batchSize = adapters.DefaultLimit(n, DefaultBatchSize)
	}
}

// WithCheckpoint persists the position under name after each event and
// resumes from the stored position when it is ahead of fromSequence.
// The adapter must implement adapters.CheckpointAdapter.
func WithCheckpoint(name string) SubscriptionOption {
	return func(c *subscriptionConfig) {
		c.checkpoint = name
	}
}

// WithFilter restricts delivery to events accepted by f.
func WithFilter(f EventFilter) SubscriptionOption {
	return func(c *subscriptionConfig) {
		if f != nil {
			c.filters = append(c.filters, f)
		}
	}
}

// WithAggregateTypeFilter restricts delivery to one aggregate type.
func WithAggregateTypeFilter(aggregateType string) SubscriptionOption {
	return WithFilter(NewAggregateTypeFilter(aggregateType))
}

// WithEventTypeFilter restricts delivery to the given event types.
func WithEventTypeFilter(eventTypes ...string) SubscriptionOption {
	return WithFilter(NewEventTypeFilter(eventTypes...))
}

// OnHandlerError is called with an event whose handler still fails after
// all retries. It is the place to park the event in a dead-letter store.
func OnHandlerError(fn func(event StoredEvent, err error)) SubscriptionOption {
	return func(c *subscriptionConfig) {
		c.onHandlerError = fn
	}
}

// Subscription is a live feed of the global event log.
// It runs in its own goroutine until Unsubscribe is called or the context
// passed to Subscribe is cancelled.
type Subscription struct {
	store    *EventStore
	handler  EventHandler
	config   subscriptionConfig
	filter   EventFilter
	notifier adapters.AppendNotifier
	cp       adapters.CheckpointAdapter

	cancel   context.CancelFunc
	done     chan struct{}
	position atomic.Uint64
	handling atomic.Bool
	gapSince time.Time

	mu  sync.Mutex
	err error
}

// Subscribe starts delivering events with a global sequence greater than
// fromSequence, in ascending order and at least once.
//
// Filters are evaluated in process so the subscription sees every sequence
// number and can tell a filtered event from a hole in the log.
func (s *EventStore) Subscribe(ctx context.Context, fromSequence uint64, handler EventHandler, opts ...SubscriptionOption) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("chronicle: subscription handler is required")
	}

	config := subscriptionConfig{
		pollInterval:  DefaultPollInterval,
		retryInterval: DefaultRetryInterval,
		maxRetries:    DefaultMaxRetries,
		gapTimeout:    DefaultGapTimeout,
		batchSize:     DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(&config)
	}

	sub := &Subscription{
		store:   s,
		handler: handler,
		config:  config,
		done:    make(chan struct{}),
	}

	if len(config.filters) > 0 {
		sub.filter = NewCompositeFilter(config.filters...)
	}
	if n, ok := s.adapter.(adapters.AppendNotifier); ok {
		sub.notifier = n
	}

	start := fromSequence
	if config.checkpoint != "" {
		cp, ok := s.adapter.(adapters.CheckpointAdapter)
		if !ok {
			return nil, adapters.Unsupported(s.adapter, "checkpoints")
		}
		stored, err := cp.GetCheckpoint(ctx, config.checkpoint)
		if err != nil {
			return nil, fmt.Errorf("chronicle: failed to read checkpoint %q: %w", config.checkpoint, err)
		}
		if stored > start {
			start = stored
		}
		sub.cp = cp
	}
	sub.position.Store(start)

	loopCtx, cancel := context.WithCancel(ctx)
	sub.cancel = cancel

	go sub.run(loopCtx)

	return sub, nil
}

// Unsubscribe stops delivery and waits for the loop to exit. No handler call
// starts after it returns. It is safe to call more than once.
//
// Called while a handler is running, for example from the handler itself,
// it only cancels the loop and returns; wait on Done to observe the exit.
func (sub *Subscription) Unsubscribe() {
	sub.cancel()
	if sub.handling.Load() {
		return
	}
	<-sub.done
}

// Done is closed when the subscription loop has exited.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Position returns the global sequence of the last processed event.
func (sub *Subscription) Position() uint64 {
	return sub.position.Load()
}

// Err returns ErrSubscriptionClosed once the loop has exited.
func (sub *Subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

func (sub *Subscription) run(ctx context.Context) {
	defer close(sub.done)
	defer func() {
		sub.mu.Lock()
		sub.err = ErrSubscriptionClosed
		sub.mu.Unlock()
	}()

	ticker := time.NewTicker(sub.config.pollInterval)
	defer ticker.Stop()

	for {
		// Arm the signal before reading so an append racing with the read
		// still wakes the next wait.
		var signal <-chan struct{}
		if sub.notifier != nil {
			signal = sub.notifier.AppendSignal()
		}

		if err := sub.catchUp(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, adapters.ErrAdapterClosed) {
				sub.store.logger.Info("subscription stopped, adapter closed",
					"position", sub.Position())
				return
			}
			sub.store.logger.Warn("subscription poll failed",
				"position", sub.Position(),
				"error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-signal:
		}
	}
}

// catchUp delivers batches until the log is exhausted or a gap is pending.
func (sub *Subscription) catchUp(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		pos := sub.Position()
		batch, err := sub.store.adapter.QueryEvents(ctx, adapters.EventQuery{
			FromSequence: pos + 1,
			Limit:        sub.config.batchSize,
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			sub.gapSince = time.Time{}
			return nil
		}

		for _, event := range batch {
			if ctx.Err() != nil {
				return nil
			}

			expected := sub.Position() + 1
			if event.GlobalSequence != expected {
				if !sub.gapExpired() {
					return nil
				}
				sub.store.logger.Warn("skipping sequence gap",
					"from", expected,
					"to", event.GlobalSequence-1)
			}
			sub.gapSince = time.Time{}

			if sub.filter == nil || sub.filter.Matches(event) {
				if !sub.deliver(ctx, event) {
					return nil
				}
			}

			sub.advance(ctx, event.GlobalSequence)
		}

		if len(batch) < sub.config.batchSize {
			return nil
		}
	}
}

// gapExpired starts or checks the wait for a missing sequence.
func (sub *Subscription) gapExpired() bool {
	if sub.gapSince.IsZero() {
		sub.gapSince = time.Now()
		return sub.config.gapTimeout == 0
	}
	return time.Since(sub.gapSince) >= sub.config.gapTimeout
}

// deliver runs the handler with retries. It returns false only when the
// subscription was cancelled before the event was settled.
func (sub *Subscription) deliver(ctx context.Context, event StoredEvent) bool {
	var err error
	for attempt := 0; attempt <= sub.config.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(sub.config.retryInterval):
			}
		}
		if ctx.Err() != nil {
			return false
		}

		if err = sub.invoke(ctx, event); err == nil {
			return true
		}

		sub.store.logger.Debug("subscription handler failed",
			"sequence", event.GlobalSequence,
			"attempt", attempt+1,
			"error", err)
	}

	sub.store.logger.Error("subscription handler gave up",
		"sequence", event.GlobalSequence,
		"aggregateId", event.AggregateID,
		"eventType", event.Type,
		"error", err)
	if sub.config.onHandlerError != nil {
		sub.handling.Store(true)
		sub.config.onHandlerError(event, err)
		sub.handling.Store(false)
	}
	return true
}

func (sub *Subscription) invoke(ctx context.Context, event StoredEvent) (err error) {
	sub.handling.Store(true)
	defer func() {
		sub.handling.Store(false)
		if r := recover(); r != nil {
			err = fmt.Errorf("chronicle: subscription handler panicked: %v", r)
		}
	}()
	return sub.handler(ctx, event)
}

func (sub *Subscription) advance(ctx context.Context, sequence uint64) {
	sub.position.Store(sequence)
	if sub.cp == nil {
		return
	}
	// The event is settled; record it even if Unsubscribe raced the handler.
	if err := sub.cp.SetCheckpoint(context.WithoutCancel(ctx), sub.config.checkpoint, sequence); err != nil {
		sub.store.logger.Warn("failed to store checkpoint",
			"checkpoint", sub.config.checkpoint,
			"position", sequence,
			"error", err)
	}
}

package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fieldops/internal/compliance/metrics"
	"fieldops/internal/compliance/ports"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 50
	defaultMaxAttempts  = 10

	// relayTxTimeout bounds one drain, including the publishes made while the
	// claimed rows are locked.
	relayTxTimeout = 30 * time.Second
)

// Relay publishes outbox entries. It drains on every nudge and on a fixed
// interval so entries left behind by a failed publish or a crash are retried.
type Relay struct {
	tx          ports.TxRunner
	store       ports.OutboxStore
	publisher   ports.Publisher
	logger      *slog.Logger
	metrics     *metrics.Metrics
	interval    time.Duration
	batchSize   int
	maxAttempts int
	wake        chan struct{}
}

type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithPollInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxAttempts caps publish attempts per entry. Entries that reach the cap
// stay in the outbox for an operator to inspect.
func WithMaxAttempts(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func NewRelay(tx ports.TxRunner, store ports.OutboxStore, publisher ports.Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		tx:          tx,
		store:       store,
		publisher:   publisher,
		logger:      slog.Default(),
		interval:    defaultPollInterval,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Nudge requests a drain without blocking.
func (r *Relay) Nudge() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run drains until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
		if _, err := r.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
		}
	}
}

// Drain publishes up to one batch of pending entries and reports how many
// were delivered. Publish failures are recorded on the entry, not returned.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, relayTxTimeout)
	defer cancel()

	delivered := 0
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := r.store.ClaimPending(ctx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox entries: %w", err)
		}
		for _, entry := range entries {
			headers := map[string]string{
				"event_type": entry.EventType,
				"outbox_id":  entry.ID,
			}
			if err := r.publisher.Publish(ctx, entry.Topic, []byte(entry.AggregateID), entry.Payload, headers); err != nil {
				r.metrics.IncOutbox("failed")
				r.logger.ErrorContext(ctx, "SignalDeliveryFailure",
					"outbox_id", entry.ID,
					"topic", entry.Topic,
					"aggregate_id", entry.AggregateID,
					"attempt", entry.Attempts+1,
					"error", err,
				)
				if markErr := r.store.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
					return fmt.Errorf("mark outbox entry failed: %w", markErr)
				}
				continue
			}
			if err := r.store.MarkDelivered(ctx, entry.ID); err != nil {
				return fmt.Errorf("mark outbox entry delivered: %w", err)
			}
			r.metrics.IncOutbox("published")
			delivered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return delivered, nil
}

package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/outbox"
	"github.com/cassiomorais/disbursements/internal/infrastructure/observability"
	"github.com/cassiomorais/disbursements/pkg/retry"
	"github.com/rs/zerolog"
)

// TransactionManager runs fn inside a database transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher delivers outbox events to the notification stream.
type EventPublisher interface {
	PublishEvent(ctx context.Context, aggregateID, eventType string, data map[string]any) error
}

// backlogCounter is implemented by outbox stores that can report their backlog.
type backlogCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// OutboxRelay moves pending outbox entries to the notification stream.
type OutboxRelay struct {
	tx        TransactionManager
	repo      outbox.Repository
	publisher EventPublisher
	retry     retry.Config
	batchSize int
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboxRelay(
	tx TransactionManager,
	repo outbox.Repository,
	publisher EventPublisher,
	batchSize int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &OutboxRelay{
		tx:        tx,
		repo:      repo,
		publisher: publisher,
		retry:     retry.Short(),
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
	}
}

// WithRetryConfig overrides the per-entry publish retry policy.
func (r *OutboxRelay) WithRetryConfig(cfg retry.Config) *OutboxRelay {
	r.retry = cfg
	return r
}

// Run polls the outbox every interval until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := r.RelayOnce(ctx); err != nil {
			r.logger.Error().Err(err).Msg("outbox relay error")
		}
	}
}

// RelayOnce publishes one batch and returns how many entries were delivered.
// Entries that still fail after retries stay pending until they run out of
// outbox retries.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.repo.GetPending(txCtx, r.batchSize)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			err := retry.Do(ctx, r.retry, func() error {
				return r.publisher.PublishEvent(ctx, entry.AggregateID, entry.EventType, entry.Payload)
			})
			if err != nil {
				r.logger.Error().Err(err).
					Str("outbox_id", entry.ID.String()).
					Str("event_type", entry.EventType).
					Msg("failed to publish outbox event")
				if markErr := r.repo.MarkFailed(txCtx, entry.ID, err.Error()); markErr != nil {
					return markErr
				}
				r.record(entry.EventType, "failed")
				continue
			}

			if err := r.repo.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			published++
			r.record(entry.EventType, "published")
		}
		return nil
	})
	if err == nil {
		r.reportBacklog(ctx)
	}
	return published, err
}

func (r *OutboxRelay) reportBacklog(ctx context.Context) {
	counter, ok := r.repo.(backlogCounter)
	if !ok || r.metrics == nil {
		return
	}
	n, err := counter.CountPending(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("count pending outbox entries")
		return
	}
	r.metrics.SetOutboxPending(n)
}

func (r *OutboxRelay) record(eventType, status string) {
	r.metrics.RecordOutbox(eventType, status)
}

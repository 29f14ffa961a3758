package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/cassiomorais/disbursements/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/disbursements/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Consumer reads payment-completed triggers.
type Consumer interface {
	Read(ctx context.Context) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageID string) error
	ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error)
}

// Locker serialises runs for one order across workers.
type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error) error
}

// LockFactory returns the lock guarding an order.
type LockFactory func(orderID string) Locker

// Disburser runs the disbursement engine for one order.
type Disburser interface {
	Disburse(ctx context.Context, orderID string) *disbursement.Report
}

// DeadLetters receives triggers that can never be processed.
type DeadLetters interface {
	PublishToDLQ(ctx context.Context, orderID, reason string, originalData map[string]any) error
}

// TriggerConfig tunes the trigger processor.
type TriggerConfig struct {
	// ProcessingTimeout bounds one Disburse call. It must stay below the lock TTL.
	ProcessingTimeout time.Duration
	// ClaimIdle is how long a message may sit unacknowledged before another
	// consumer takes it over.
	ClaimIdle time.Duration
	// ErrorBackoff is the pause after a failed stream read.
	ErrorBackoff time.Duration
}

// TriggerProcessor consumes payment-completed events and runs the engine
// under the per-order lock.
type TriggerProcessor struct {
	consumer Consumer
	locks    LockFactory
	engine   Disburser
	dlq      DeadLetters
	metrics  *observability.Metrics
	logger   zerolog.Logger
	cfg      TriggerConfig
}

func NewTriggerProcessor(
	consumer Consumer,
	locks LockFactory,
	engine Disburser,
	dlq DeadLetters,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	cfg TriggerConfig,
) *TriggerProcessor {
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 90 * time.Second
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 5 * time.Minute
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &TriggerProcessor{
		consumer: consumer,
		locks:    locks,
		engine:   engine,
		dlq:      dlq,
		metrics:  metrics,
		logger:   logger.With().Str("component", "trigger_processor").Logger(),
		cfg:      cfg,
	}
}

// Run processes messages until ctx is cancelled. Messages left pending by a
// crashed consumer, or by lock contention, are reclaimed every ClaimIdle.
func (p *TriggerProcessor) Run(ctx context.Context) error {
	var lastClaim time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if time.Since(lastClaim) >= p.cfg.ClaimIdle {
			lastClaim = time.Now()
			stale, err := p.consumer.ClaimStale(ctx, p.cfg.ClaimIdle)
			if err != nil {
				p.logger.Warn().Err(err).Msg("failed to claim stale messages")
			}
			for _, msg := range stale {
				p.Handle(ctx, msg)
			}
		}

		msgs, err := p.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error().Err(err).Msg("failed to read from stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.cfg.ErrorBackoff):
			}
			continue
		}

		for _, msg := range msgs {
			p.Handle(ctx, msg)
		}
	}
}

// Handle processes one trigger. A message is acknowledged once the engine has
// run or the message is unusable. Lock contention leaves it pending so a
// later claim retries it.
func (p *TriggerProcessor) Handle(ctx context.Context, msg redis.XMessage) {
	start := time.Now()

	evt, err := infraRedis.ParsePaymentCompleted(msg)
	if err != nil {
		p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("invalid trigger, moving to DLQ")
		if dlqErr := p.dlq.PublishToDLQ(ctx, "", err.Error(), msg.Values); dlqErr != nil {
			p.logger.Error().Err(dlqErr).Str("message_id", msg.ID).Msg("failed to publish to DLQ")
			return
		}
		p.ack(ctx, msg.ID)
		p.record("invalid", start)
		return
	}

	log := observability.ForOrder(p.logger, evt.OrderID, map[string]any{"message_id": msg.ID})

	var report *disbursement.Report
	err = p.locks(evt.OrderID).WithLock(ctx, func(lockCtx context.Context) error {
		runCtx, cancel := context.WithTimeout(lockCtx, p.cfg.ProcessingTimeout)
		defer cancel()
		report = p.engine.Disburse(runCtx, evt.OrderID)
		return nil
	})
	if err != nil {
		if errors.Is(err, domainErrors.ErrLockAcquisitionFailed) {
			log.Info().Msg("order is being disbursed by another worker, leaving message pending")
			p.record("locked", start)
			return
		}
		if report == nil {
			log.Error().Err(err).Msg("could not run disbursement")
			p.record("error", start)
			return
		}
		// The run finished but the lock expired underneath it. The unit
		// statuses are already durable so the message is still done.
		log.Warn().Err(err).Msg("lock lost during disbursement")
	}

	log.Info().
		Bool("aborted", report.Aborted).
		Str("reason", report.Reason).
		Int("sent", report.Count(disbursement.OutcomeSent)).
		Int("failed", report.Count(disbursement.OutcomeFailed)).
		Msg("disbursement run finished")

	p.ack(ctx, msg.ID)
	p.record("success", start)
}

func (p *TriggerProcessor) ack(ctx context.Context, id string) {
	if err := p.consumer.Ack(ctx, id); err != nil {
		p.logger.Error().Err(err).Str("message_id", id).Msg("failed to ack message")
	}
}

func (p *TriggerProcessor) record(status string, start time.Time) {
	p.metrics.RecordMessage(infraRedis.PaymentCompletedStream, status, time.Since(start))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/disbursements/internal/bootstrap"
	infraRedis "github.com/cassiomorais/disbursements/internal/infrastructure/redis"
	"github.com/cassiomorais/disbursements/internal/repository/postgres"
	"github.com/cassiomorais/disbursements/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const idempotencyCleanupInterval = time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "disbursements-worker", "disbursements_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svc, err := app.NewServices()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build services")
	}

	workerCfg := app.Config.Worker
	consumer := infraRedis.NewStreamConsumer(app.Redis, infraRedis.ConsumerConfig{
		Stream:    infraRedis.PaymentCompletedStream,
		Group:     workerCfg.ConsumerGroup,
		Consumer:  app.Config.InstanceID,
		BatchSize: workerCfg.BatchSize,
		Block:     workerCfg.BlockDuration,
	})
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to create consumer group")
	}

	lockTTL := app.Config.Disbursement.LockTTL
	trigger := worker.NewTriggerProcessor(
		consumer,
		func(orderID string) worker.Locker { return infraRedis.NewOrderLock(app.Redis, orderID, lockTTL) },
		svc.Engine,
		svc.Producer,
		app.Metrics,
		app.Logger,
		worker.TriggerConfig{ProcessingTimeout: app.Config.Disbursement.ProcessingTimeout},
	)
	relay := worker.NewOutboxRelay(svc.TxManager, svc.Outbox, svc.Producer, int(workerCfg.BatchSize), app.Metrics, app.Logger)
	keys := postgres.NewIdempotencyRepository(app.Pool)

	tasks := map[string]func(context.Context) error{
		"trigger": trigger.Run,
		"outbox":  func(ctx context.Context) error { return relay.Run(ctx, workerCfg.OutboxPollInterval) },
		"idempotency_cleanup": func(ctx context.Context) error {
			return every(ctx, idempotencyCleanupInterval, func(ctx context.Context) {
				cleanupIdempotencyKeys(ctx, app.Logger, keys)
			})
		},
	}

	app.Logger.Info().
		Str("stream", infraRedis.PaymentCompletedStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started")

	// The first task to fail stops the others.
	g, gCtx := errgroup.WithContext(ctx)
	for name, run := range tasks {
		g.Go(func() error {
			if err := run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Worker stopped on error")
		return
	}
	app.Logger.Info().Msg("Worker exited")
}

// every runs fn on each tick until ctx ends.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func cleanupIdempotencyKeys(ctx context.Context, logger zerolog.Logger, repo *postgres.IdempotencyRepository) {
	removed, err := repo.Cleanup(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Idempotency cleanup failed")
		return
	}
	if removed > 0 {
		logger.Info().Int64("removed", removed).Msg("Expired idempotency keys removed")
	}
}

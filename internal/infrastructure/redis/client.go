package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/disbursements/internal/infrastructure/config"
	"github.com/cassiomorais/disbursements/pkg/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewClient connects to Redis and waits until it answers PING. Redis often
// starts after the service in compose setups, so the first pings may fail.
// Blocking stream reads extend go-redis read timeouts on their own.
func NewClient(ctx context.Context, cfg *config.RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	addr := cfg.RedisAddr()
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		ClientName:      "disbursements",
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		MaxRetries:      3,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	policy := retry.Config{
		MaxAttempts:  uint(max(cfg.ConnectRetries, 1)),
		InitialDelay: cfg.ConnectRetryDelay,
		MaxDelay:     10 * time.Second,
		OnRetry: func(attempt uint, err error) {
			logger.Warn().Err(err).Uint("attempt", attempt+1).Str("addr", addr).Msg("redis not ready")
		},
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}

	err := retry.Do(ctx, policy, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable after %d attempts: %w", addr, policy.MaxAttempts, err)
	}
	return client, nil
}

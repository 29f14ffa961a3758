// Package retry wraps retry-go with the backoff policy used for read-only
// backend calls and stream publishes. Never wrap a send in it: a repeated
// send can move assets twice.
package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

type Config struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// RetryIf decides whether an error is worth another attempt. Nil retries every error.
	RetryIf func(err error) bool
	// OnRetry runs after every failed attempt, the last one included.
	OnRetry func(attempt uint, err error)
}

// Short is three attempts over roughly half a second, for calls a caller is
// waiting on.
func Short() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

// Permanent marks err so Do returns it without further attempts.
func Permanent(err error) error {
	return retry.Unrecoverable(err)
}

// Do runs fn until it succeeds, the attempts run out or ctx ends. Only the
// last error is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return retry.Do(fn, optionsFor(ctx, cfg)...)
}

func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	return retry.DoWithData(fn, optionsFor(ctx, cfg)...)
}

func optionsFor(ctx context.Context, cfg Config) []retry.Option {
	// Zero attempts means "retry forever" to retry-go.
	attempts := max(cfg.MaxAttempts, 1)
	jitter := cfg.InitialDelay / 2
	var delay retry.DelayTypeFunc = retry.BackOffDelay
	if jitter > 0 {
		delay = retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)
	}
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(cfg.InitialDelay),
		retry.MaxDelay(cfg.MaxDelay),
		retry.MaxJitter(jitter),
		retry.DelayType(delay),
		retry.LastErrorOnly(true),
	}
	if cfg.RetryIf != nil {
		opts = append(opts, retry.RetryIf(cfg.RetryIf))
	}
	if cfg.OnRetry != nil {
		opts = append(opts, retry.OnRetry(retry.OnRetryFunc(cfg.OnRetry)))
	}
	return opts
}

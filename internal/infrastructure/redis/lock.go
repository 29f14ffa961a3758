package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainerrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Both scripts act only while KEYS[1] still holds the caller's token, so a
// lock that expired and was taken by another worker is never touched.
var (
	unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) ~= ARGV[1] then
	return 0
end
return redis.call("del", KEYS[1])`)

	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) ~= ARGV[1] then
	return 0
end
return redis.call("pexpire", KEYS[1], ARGV[2])`)
)

const releaseTimeout = 3 * time.Second

// OrderLockKey is the key guarding a single order's disbursement run.
func OrderLockKey(orderID string) string {
	return "lock:order:" + orderID
}

// OrderLock serialises disbursement runs for one order across workers.
// While WithLock runs fn, a watchdog renews the TTL every third of it, so a
// slow backend does not let the lock lapse under a live run.
type OrderLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	mu   sync.Mutex
	held bool
}

func NewOrderLock(client *redis.Client, orderID string, ttl time.Duration) *OrderLock {
	return &OrderLock{
		client: client,
		key:    OrderLockKey(orderID),
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

func (l *OrderLock) Key() string { return l.key }

func (l *OrderLock) IsAcquired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Acquire tries once to take the lock.
func (l *OrderLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	l.setHeld(ok)
	return ok, nil
}

// Extend resets the TTL. It fails with ErrLockNotHeld once the key has
// expired or belongs to someone else.
func (l *OrderLock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.IsAcquired() {
		return domainerrors.ErrLockNotHeld
	}
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.key, err)
	}
	if n == 0 {
		l.setHeld(false)
		return domainerrors.ErrLockNotHeld
	}
	return nil
}

// Release deletes the key if this holder still owns it. Releasing a lock
// that was never taken is a no-op.
func (l *OrderLock) Release(ctx context.Context) error {
	if !l.IsAcquired() {
		return nil
	}
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.setHeld(false)
	if n == 0 {
		return domainerrors.ErrLockNotHeld
	}
	return nil
}

// WithLock runs fn while holding the lock. It returns
// ErrLockAcquisitionFailed without calling fn when another worker holds it.
// If a renewal finds the lock lost, fn's context is cancelled.
func (l *OrderLock) WithLock(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", l.key, domainerrors.ErrLockAcquisitionFailed)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	go l.keepAlive(runCtx, cancel)

	defer func() {
		cancel(nil)
		// A cancelled run must still free the key.
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer relCancel()
		if relErr := l.Release(relCtx); relErr != nil && err == nil {
			err = relErr
		}
	}()

	return fn(runCtx)
}

func (l *OrderLock) keepAlive(ctx context.Context, cancel context.CancelCauseFunc) {
	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// A Redis hiccup is retried on the next tick; only a lost key stops the run.
		if err := l.Extend(ctx, l.ttl); errors.Is(err, domainerrors.ErrLockNotHeld) {
			cancel(fmt.Errorf("%s lost: %w", l.key, err))
			return
		}
	}
}

func (l *OrderLock) setHeld(v bool) {
	l.mu.Lock()
	l.held = v
	l.mu.Unlock()
}

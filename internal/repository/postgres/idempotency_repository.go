package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyEntry is a stored HTTP response replayed for a repeated
// Idempotency-Key. RequestHash fingerprints the request that produced it.
// Field order matches the column order of the queries below.
type IdempotencyEntry struct {
	Key            string
	RequestHash    string
	ResponseBody   string
	ResponseStatus int
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// IdempotencyRepository backs the Idempotency-Key middleware.
type IdempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

func (r *IdempotencyRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Get returns the live entry for key, or nil when there is none. Expired
// rows are ignored even before the sweep removes them.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*IdempotencyEntry, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT key, request_hash, response_body, response_status, created_at, expires_at
		 FROM idempotency_keys WHERE key = $1 AND expires_at > NOW()`, key)
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[IdempotencyEntry])
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("scan idempotency key: %w", err)
	}
	return e, nil
}

// Set stores a response. The first writer for a key wins; a replay of an
// expired key overwrites it.
func (r *IdempotencyRepository) Set(ctx context.Context, entry *IdempotencyEntry) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO idempotency_keys (key, request_hash, response_body, response_status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key) DO UPDATE SET
		   request_hash = EXCLUDED.request_hash,
		   response_body = EXCLUDED.response_body,
		   response_status = EXCLUDED.response_status,
		   created_at = EXCLUDED.created_at,
		   expires_at = EXCLUDED.expires_at
		 WHERE idempotency_keys.expires_at <= NOW()`,
		entry.Key, entry.RequestHash, entry.ResponseBody, entry.ResponseStatus, entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

// cleanupBatch bounds how many rows one DELETE removes so the sweep never
// holds a long lock on the table.
const cleanupBatch = 1000

// Cleanup deletes expired keys in batches and reports how many were removed.
func (r *IdempotencyRepository) Cleanup(ctx context.Context) (int64, error) {
	var total int64
	for {
		tag, err := r.db(ctx).Exec(ctx,
			`DELETE FROM idempotency_keys
			 WHERE key IN (
			   SELECT key FROM idempotency_keys
			   WHERE expires_at < NOW()
			   LIMIT $1
			 )`, cleanupBatch)
		if err != nil {
			return total, fmt.Errorf("cleanup idempotency keys: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < cleanupBatch || ctx.Err() != nil {
			return total, nil
		}
	}
}

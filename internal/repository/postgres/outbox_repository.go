package postgres

import (
	"context"
	"fmt"

	"github.com/cassiomorais/disbursements/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload, status,
	retry_count, max_retries, last_error, created_at, published_at`

// OutboxRepository stores admin alerts until the relay hands them to the
// notification stream. Inserts join the caller's transaction, so an alert
// exists only if the order note written next to it does.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *OutboxRepository) Insert(ctx context.Context, e *outbox.Entry) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	// pgx encodes the map as JSONB.
	_, err := r.db(ctx).Exec(ctx, `INSERT INTO outbox (`+outboxColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.AggregateType, e.AggregateID, e.EventType, payload, string(e.Status),
		e.RetryCount, e.MaxRetries, e.LastError, e.CreatedAt, e.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry %s: %w", e.ID, err)
	}
	return nil
}

// GetPending claims up to limit pending entries, oldest first. The rows stay
// locked until the surrounding transaction ends, so concurrent relays skip
// each other's batches.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if !InTransaction(ctx) {
		return nil, fmt.Errorf("get pending outbox entries: must run inside a transaction")
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db(ctx).Query(ctx, `SELECT `+outboxColumns+` FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending outbox entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*outbox.Entry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*outbox.Entry, error) {
	var (
		e      outbox.Entry
		status string
	)
	err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &status,
		&e.RetryCount, &e.MaxRetries, &e.LastError, &e.CreatedAt, &e.PublishedAt)
	if err != nil {
		return nil, err
	}
	e.Status = outbox.Status(status)
	return &e, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET status = 'published', published_at = NOW(), last_error = NULL
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("mark outbox entry %s published: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark outbox entry %s published: entry is not pending", id)
	}
	return nil
}

// MarkFailed records reason and parks the entry as failed once it has used
// its retries.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox
		 SET retry_count = retry_count + 1,
		     last_error = $2,
		     status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END
		 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark outbox entry %s failed: %w", id, err)
	}
	return nil
}

// CountPending reports the relay backlog for the outbox gauge.
func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending outbox entries: %w", err)
	}
	return n, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NoteRepository stores the order audit trail.
type NoteRepository struct {
	pool *pgxpool.Pool
}

func NewNoteRepository(pool *pgxpool.Pool) *NoteRepository {
	return &NoteRepository{pool: pool}
}

func (r *NoteRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *NoteRepository) AddNote(ctx context.Context, note *disbursement.OrderNote) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO order_notes (id, order_id, message, created_at) VALUES ($1, $2, $3, $4)`,
		note.ID, note.OrderID, note.Message, note.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order note: %w", err)
	}
	return nil
}

func (r *NoteRepository) ListByOrder(ctx context.Context, orderID string) ([]*disbursement.OrderNote, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, order_id, message, created_at FROM order_notes
		 WHERE order_id = $1 ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order notes: %w", err)
	}
	defer rows.Close()

	var notes []*disbursement.OrderNote
	for rows.Next() {
		n := &disbursement.OrderNote{}
		if err := rows.Scan(&n.ID, &n.OrderID, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

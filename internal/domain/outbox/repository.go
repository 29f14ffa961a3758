package outbox

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the relay's view of the outbox table.
type Repository interface {
	// Insert joins the transaction on ctx when there is one.
	Insert(ctx context.Context, entry *Entry) error
	// GetPending claims up to limit pending entries, oldest first.
	GetPending(ctx context.Context, limit int) ([]*Entry, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	// MarkFailed has the semantics of Entry.RecordFailure.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

package disbursement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UnitRepository is the send-state ledger for payable units.
type UnitRepository interface {
	// Create stores a new unit in the unset state
	Create(ctx context.Context, unit *PayableUnit) error

	// GetByID retrieves a unit by ID
	GetByID(ctx context.Context, id uuid.UUID) (*PayableUnit, error)

	// ListByOrder returns the units of an order in line-item order
	ListByOrder(ctx context.Context, orderID string) ([]*PayableUnit, error)

	// SetStatus moves an unset unit to a terminal status. It returns
	// errors.ErrAlreadyTerminal when the unit was already attempted.
	SetStatus(ctx context.Context, id uuid.UUID, status SendStatus, detail string) error
}

// NoteRepository persists the order audit trail.
type NoteRepository interface {
	AddNote(ctx context.Context, note *OrderNote) error
	ListByOrder(ctx context.Context, orderID string) ([]*OrderNote, error)
}

// OrderNote is a human readable annotation on an order.
type OrderNote struct {
	ID        uuid.UUID
	OrderID   string
	Message   string
	CreatedAt time.Time
}

// NewOrderNote creates a note stamped with the current time.
func NewOrderNote(orderID, message string) *OrderNote {
	return &OrderNote{
		ID:        uuid.New(),
		OrderID:   orderID,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

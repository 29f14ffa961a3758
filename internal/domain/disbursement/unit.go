package disbursement

import (
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/google/uuid"
)

// SendStatus is the per-unit idempotency marker. The zero value means no attempt was made.
type SendStatus string

const (
	StatusUnset   SendStatus = ""
	StatusSuccess SendStatus = "success"
	StatusError   SendStatus = "error"
)

// IsTerminal reports whether the status blocks any further send attempt.
func (s SendStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// PayableUnit is one order line item eligible for exactly one disbursement attempt.
type PayableUnit struct {
	ID                 uuid.UUID
	OrderID            string
	LineItemID         string
	SKU                string
	DestinationAddress string
	AssetID            string
	Quantity           int64
	SendStatus         SendStatus
	TxID               *string
	LastError          *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	SentAt             *time.Time
}

// NewPayableUnit creates a unit in the unset state.
func NewPayableUnit(orderID, lineItemID, sku, address, assetID string, quantity int64) (*PayableUnit, error) {
	if orderID == "" {
		return nil, errors.NewValidationError("order_id", "cannot be empty")
	}
	if lineItemID == "" {
		return nil, errors.NewValidationError("line_item_id", "cannot be empty")
	}
	if quantity <= 0 {
		return nil, errors.NewValidationError("quantity", "must be greater than 0")
	}

	now := time.Now()
	return &PayableUnit{
		ID:                 uuid.New(),
		OrderID:            orderID,
		LineItemID:         lineItemID,
		SKU:                sku,
		DestinationAddress: address,
		AssetID:            assetID,
		Quantity:           quantity,
		SendStatus:         StatusUnset,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// CanTransitionTo checks if the unit can move to the given status.
// Only unset -> success and unset -> error are allowed; terminal states are final.
func (u *PayableUnit) CanTransitionTo(status SendStatus) bool {
	return u.SendStatus == StatusUnset && status.IsTerminal()
}

// MarkSent records a confirmed transfer.
func (u *PayableUnit) MarkSent(txID string) error {
	if err := u.transitionTo(StatusSuccess); err != nil {
		return err
	}
	u.TxID = &txID
	now := time.Now()
	u.SentAt = &now
	return nil
}

// MarkFailed records a failed or unconfirmed transfer.
func (u *PayableUnit) MarkFailed(detail string) error {
	if err := u.transitionTo(StatusError); err != nil {
		return err
	}
	u.LastError = &detail
	return nil
}

// IsTerminal checks if the unit has already been attempted.
func (u *PayableUnit) IsTerminal() bool {
	return u.SendStatus.IsTerminal()
}

// HasDestination reports whether the customer supplied an address for this line.
func (u *PayableUnit) HasDestination() bool {
	return u.DestinationAddress != ""
}

// TransferRequest builds the backend request for this unit.
func (u *PayableUnit) TransferRequest() TransferRequest {
	return TransferRequest{
		DestinationAddress: u.DestinationAddress,
		AssetID:            u.AssetID,
		Quantity:           u.Quantity,
	}
}

func (u *PayableUnit) transitionTo(status SendStatus) error {
	if !u.CanTransitionTo(status) {
		if u.IsTerminal() {
			return errors.NewDomainError(
				"already_terminal",
				"cannot transition from "+string(u.SendStatus)+" to "+string(status),
				errors.ErrAlreadyTerminal,
			)
		}
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition to "+string(status),
			errors.ErrInvalidStateTransition,
		)
	}
	u.SendStatus = status
	u.UpdatedAt = time.Now()
	return nil
}

// ShortAddress abbreviates a destination for display, keeping the first 7 and last 15 characters.
func ShortAddress(address string) string {
	if len(address) <= 7+15 {
		return address
	}
	return address[:7] + "..." + address[len(address)-15:]
}

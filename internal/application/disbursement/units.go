package disbursement

import (
	"context"
	"fmt"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
)

// UnitInput describes one line item of an order that carries an asset.
type UnitInput struct {
	LineItemID         string
	SKU                string
	DestinationAddress string
	AssetID            string
	Quantity           int64
}

// RegisterUnitsUseCase records the payable units of an order at checkout.
type RegisterUnitsUseCase struct {
	units     disbursement.UnitRepository
	txManager TransactionManager
	validator *AddressValidator
}

// NewRegisterUnitsUseCase creates a new RegisterUnitsUseCase.
func NewRegisterUnitsUseCase(units disbursement.UnitRepository, txManager TransactionManager, validator *AddressValidator) *RegisterUnitsUseCase {
	return &RegisterUnitsUseCase{units: units, txManager: txManager, validator: validator}
}

// Execute validates every line and stores them atomically. Nothing is stored when
// any line is rejected.
func (uc *RegisterUnitsUseCase) Execute(ctx context.Context, orderID string, inputs []UnitInput) ([]*disbursement.PayableUnit, error) {
	units := make([]*disbursement.PayableUnit, 0, len(inputs))
	for _, in := range inputs {
		if err := uc.validator.CheckCartAddress(ctx, in.AssetID, in.DestinationAddress); err != nil {
			return nil, err
		}
		u, err := disbursement.NewPayableUnit(orderID, in.LineItemID, in.SKU, in.DestinationAddress, in.AssetID, in.Quantity)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}

	err := uc.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, u := range units {
			if err := uc.units.Create(txCtx, u); err != nil {
				return fmt.Errorf("create unit %s: %w", u.LineItemID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

// ListUnitsUseCase returns the units of an order with their send state.
type ListUnitsUseCase struct {
	units disbursement.UnitRepository
}

func NewListUnitsUseCase(units disbursement.UnitRepository) *ListUnitsUseCase {
	return &ListUnitsUseCase{units: units}
}

func (uc *ListUnitsUseCase) Execute(ctx context.Context, orderID string) ([]*disbursement.PayableUnit, error) {
	return uc.units.ListByOrder(ctx, orderID)
}

// ListNotesUseCase returns the audit trail of an order.
type ListNotesUseCase struct {
	notes disbursement.NoteRepository
}

func NewListNotesUseCase(notes disbursement.NoteRepository) *ListNotesUseCase {
	return &ListNotesUseCase{notes: notes}
}

func (uc *ListNotesUseCase) Execute(ctx context.Context, orderID string) ([]*disbursement.OrderNote, error) {
	return uc.notes.ListByOrder(ctx, orderID)
}

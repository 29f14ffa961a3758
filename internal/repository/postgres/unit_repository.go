package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const unitColumns = `id, order_id, line_item_id, sku, destination_address, asset_id, quantity,
	send_status, tx_id, last_error, created_at, updated_at, sent_at`

// UnitRepository implements disbursement.UnitRepository using PostgreSQL.
type UnitRepository struct {
	pool *pgxpool.Pool
}

// NewUnitRepository creates a new UnitRepository.
func NewUnitRepository(pool *pgxpool.Pool) *UnitRepository {
	return &UnitRepository{pool: pool}
}

func (r *UnitRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new unit. A second registration of the same line item
// returns ErrDuplicateUnit.
func (r *UnitRepository) Create(ctx context.Context, u *disbursement.PayableUnit) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payable_units (`+unitColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		u.ID, u.OrderID, u.LineItemID, u.SKU, u.DestinationAddress, u.AssetID, u.Quantity,
		string(u.SendStatus), u.TxID, u.LastError, u.CreatedAt, u.UpdatedAt, u.SentAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicateUnit
		}
		return fmt.Errorf("insert payable unit: %w", err)
	}
	return nil
}

// GetByID retrieves a unit by its ID.
func (r *UnitRepository) GetByID(ctx context.Context, id uuid.UUID) (*disbursement.PayableUnit, error) {
	return r.scanUnit(r.db(ctx).QueryRow(ctx,
		`SELECT `+unitColumns+` FROM payable_units WHERE id = $1`, id))
}

// ListByOrder returns the units of an order in registration order.
func (r *UnitRepository) ListByOrder(ctx context.Context, orderID string) ([]*disbursement.PayableUnit, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+unitColumns+` FROM payable_units
		 WHERE order_id = $1
		 ORDER BY created_at ASC, line_item_id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payable units: %w", err)
	}
	defer rows.Close()

	var units []*disbursement.PayableUnit
	for rows.Next() {
		u, err := r.scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// SetStatus moves an unset unit to success or error. The update is
// conditional on the stored status still being unset, so two writers racing
// on the same unit cannot both win.
func (r *UnitRepository) SetStatus(ctx context.Context, id uuid.UUID, status disbursement.SendStatus, detail string) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch status {
	case disbursement.StatusSuccess:
		tag, err = r.db(ctx).Exec(ctx,
			`UPDATE payable_units
			 SET send_status = $1, tx_id = $2, sent_at = NOW(), updated_at = NOW()
			 WHERE id = $3 AND send_status = ''`,
			string(status), detail, id)
	case disbursement.StatusError:
		tag, err = r.db(ctx).Exec(ctx,
			`UPDATE payable_units
			 SET send_status = $1, last_error = $2, updated_at = NOW()
			 WHERE id = $3 AND send_status = ''`,
			string(status), detail, id)
	default:
		return domainErrors.ErrInvalidStateTransition
	}
	if err != nil {
		return fmt.Errorf("set payable unit status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing changed: either the unit is gone or another writer got there first.
	var current string
	err = r.db(ctx).QueryRow(ctx, `SELECT send_status FROM payable_units WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainErrors.ErrUnitNotFound
		}
		return fmt.Errorf("check payable unit status: %w", err)
	}
	return domainErrors.NewDomainError(
		"already_terminal",
		fmt.Sprintf("payable unit %s is already %s", id, current),
		domainErrors.ErrAlreadyTerminal,
	)
}

func (r *UnitRepository) scanUnit(row scanner) (*disbursement.PayableUnit, error) {
	u := &disbursement.PayableUnit{}
	var status string
	err := row.Scan(
		&u.ID, &u.OrderID, &u.LineItemID, &u.SKU, &u.DestinationAddress, &u.AssetID, &u.Quantity,
		&status, &u.TxID, &u.LastError, &u.CreatedAt, &u.UpdatedAt, &u.SentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrUnitNotFound
		}
		return nil, fmt.Errorf("scan payable unit: %w", err)
	}
	u.SendStatus = disbursement.SendStatus(status)
	return u, nil
}

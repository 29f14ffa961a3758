package disbursement

import (
	"context"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/cassiomorais/disbursements/internal/infrastructure/backends"
)

// SettingsLoader returns the backend settings in effect right now.
// Implementations must not cache: a changed setting applies to the next run.
type SettingsLoader interface {
	Load(ctx context.Context) (disbursement.BackendConfig, error)
}

// Notifier receives human readable status strings for the order audit trail and
// for admin alerting. Delivery is handled elsewhere.
type Notifier interface {
	Annotate(ctx context.Context, orderID, message string) error
	NotifyAdmin(ctx context.Context, orderID string, recipients []string, message string) error
}

// BackendFactory selects and builds the transfer backend for a configuration.
type BackendFactory interface {
	Build(cfg disbursement.BackendConfig) (backends.Backend, error)
	ValidatorFor(cfg disbursement.BackendConfig) (backends.AddressChecker, bool)
}

// TransactionManager defines the interface for transaction management.
// This is an application-layer port, not a domain concern.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

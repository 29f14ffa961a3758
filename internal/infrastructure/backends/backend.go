package backends

import (
	"context"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/shopspring/decimal"
)

// Backend is the interface that disbursement backends implement.
type Backend interface {
	// Name returns the backend name.
	Name() string
	// Send transfers an asset. A nil error with an empty receipt TxID is not a confirmed send.
	Send(ctx context.Context, req disbursement.TransferRequest) (*disbursement.TransferReceipt, error)
}

// AddressChecker is implemented by backends that can validate addresses authoritatively.
type AddressChecker interface {
	ValidateAddress(ctx context.Context, address string) (bool, error)
}

// BalanceReader is implemented by backends that expose the wallet balance of an asset.
type BalanceReader interface {
	Balance(ctx context.Context, assetID string) (decimal.Decimal, error)
}

type unwrapper interface {
	Unwrap() Backend
}

func unwrap(b Backend) Backend {
	for {
		u, ok := b.(unwrapper)
		if !ok {
			return b
		}
		b = u.Unwrap()
	}
}

// AsAddressChecker returns the address validation capability of b, looking through decorators.
func AsAddressChecker(b Backend) (AddressChecker, bool) {
	c, ok := unwrap(b).(AddressChecker)
	return c, ok
}

// AsBalanceReader returns the balance capability of b, looking through decorators.
func AsBalanceReader(b Backend) (BalanceReader, bool) {
	r, ok := unwrap(b).(BalanceReader)
	return r, ok
}

package disbursement

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/cassiomorais/disbursements/internal/infrastructure/backends"
	"github.com/cassiomorais/disbursements/pkg/retry"
	"github.com/shopspring/decimal"
)

// Balance is the wallet balance of one asset.
type Balance struct {
	AssetID   string
	Amount    decimal.Decimal
	BaseUnits int64
}

// GetBalanceUseCase reads the node wallet balance of an asset. The call is read-only,
// so transient failures are retried.
type GetBalanceUseCase struct {
	settings SettingsLoader
	backends BackendFactory
	retryCfg retry.Config
}

func NewGetBalanceUseCase(settings SettingsLoader, backendFactory BackendFactory) *GetBalanceUseCase {
	cfg := retry.Short()
	cfg.RetryIf = isTransient
	return &GetBalanceUseCase{
		settings: settings,
		backends: backendFactory,
		retryCfg: cfg,
	}
}

// WithRetryConfig overrides the retry policy.
func (uc *GetBalanceUseCase) WithRetryConfig(cfg retry.Config) *GetBalanceUseCase {
	if cfg.RetryIf == nil {
		cfg.RetryIf = isTransient
	}
	uc.retryCfg = cfg
	return uc
}

func (uc *GetBalanceUseCase) Execute(ctx context.Context, assetID string) (*Balance, error) {
	if assetID == "" {
		return nil, domainErrors.NewValidationError("asset", "asset is required")
	}

	cfg, err := uc.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !cfg.Enabled() {
		return nil, domainErrors.NewConfigurationError("no disbursement mode set", "mode")
	}

	backend, err := uc.backends.Build(cfg)
	if err != nil {
		return nil, err
	}
	reader, ok := backends.AsBalanceReader(backend)
	if !ok {
		return nil, fmt.Errorf("%s backend: %w", backend.Name(), domainErrors.ErrNotSupported)
	}

	amount, err := retry.DoWithResult(ctx, uc.retryCfg, func() (decimal.Decimal, error) {
		return reader.Balance(ctx, assetID)
	})
	if err != nil {
		return nil, err
	}

	bal := &Balance{AssetID: assetID, Amount: amount}
	if units, err := backends.DecimalToBaseUnits(amount); err == nil {
		bal.BaseUnits = units
	}
	return bal, nil
}

// isTransient retries transport failures and server errors, never client errors.
func isTransient(err error) bool {
	var be *domainErrors.BackendError
	if !errors.As(err, &be) {
		return false
	}
	return be.Code == 0 || be.Code >= 500
}

package disbursement

import (
	"context"
	"fmt"
	"strings"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/cassiomorais/disbursements/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// AddressValidator decides whether a destination address is acceptable. It asks the
// node in node_rpc mode and uses static prefix rules in every other mode.
type AddressValidator struct {
	settings SettingsLoader
	backends BackendFactory
	notifier Notifier
	metrics  *observability.Metrics
	logger   zerolog.Logger

	fallbackAdmins []string
}

// NewAddressValidator creates a new AddressValidator.
func NewAddressValidator(
	settings SettingsLoader,
	backendFactory BackendFactory,
	notifier Notifier,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *AddressValidator {
	return &AddressValidator{
		settings: settings,
		backends: backendFactory,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// WithFallbackAdmins sets the recipients of alerts raised when the settings
// cannot be read or name no admin.
func (v *AddressValidator) WithFallbackAdmins(emails []string) *AddressValidator {
	v.fallbackAdmins = emails
	return v
}

// IsValid reports whether address may receive assets. When the node is the
// authority and cannot answer, the address is rejected and the admins are told.
func (v *AddressValidator) IsValid(ctx context.Context, address string) bool {
	if address == "" {
		return false
	}

	cfg, err := v.settings.Load(ctx)
	if err != nil {
		return v.reject(ctx, address, nil, fmt.Errorf("load settings: %w", err))
	}
	if !cfg.HasAuthoritativeValidation() {
		valid := disbursement.MatchesStaticAddressRules(address)
		v.metrics.RecordAddressValidation("static", valid)
		return valid
	}

	checker, ok := v.backends.ValidatorFor(cfg)
	if !ok {
		cause := cfg.Validate()
		if cause == nil {
			cause = domainErrors.ErrNotSupported
		}
		return v.reject(ctx, address, cfg.AdminEmails, cause)
	}
	valid, err := checker.ValidateAddress(ctx, address)
	if err != nil {
		return v.rejectMsg(ctx, address, cfg.AdminEmails, err, msgAddressCheckFailed(address, err))
	}
	v.metrics.RecordAddressValidation("node", valid)
	return valid
}

func (v *AddressValidator) reject(ctx context.Context, address string, recipients []string, err error) bool {
	return v.rejectMsg(ctx, address, recipients, err, msgAddressCheckUnavailable(address, err))
}

func (v *AddressValidator) rejectMsg(ctx context.Context, address string, recipients []string, err error, msg string) bool {
	v.logger.Error().Err(err).Str("address", disbursement.ShortAddress(address)).Msg("node address validation failed")
	if len(recipients) == 0 {
		recipients = v.fallbackAdmins
	}
	if nerr := v.notifier.NotifyAdmin(ctx, "", recipients, msg); nerr != nil {
		v.logger.Error().Err(nerr).Msg("queue admin notification")
	}
	v.metrics.RecordAddressValidation("node", false)
	return false
}

// CheckCartAddress gates adding a product to the cart. Products without an asset ID
// need no address.
func (v *AddressValidator) CheckCartAddress(ctx context.Context, assetID, address string) error {
	if assetID == "" {
		return nil
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return domainErrors.NewValidationError("destination_address", "please enter your Liquid address")
	}
	if !v.IsValid(ctx, address) {
		return domainErrors.NewValidationError("destination_address",
			fmt.Sprintf("%s is not a valid Liquid address", disbursement.ShortAddress(address)))
	}
	return nil
}

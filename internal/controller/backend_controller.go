package controller

import (
	"context"
	"errors"
	"net/http"

	appDisbursement "github.com/cassiomorais/disbursements/internal/application/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/cassiomorais/disbursements/internal/middleware"
	"github.com/cassiomorais/disbursements/internal/repository/postgres"
	"github.com/rs/zerolog/log"
)

type balanceReader interface {
	Execute(ctx context.Context, assetID string) (*appDisbursement.Balance, error)
}

// SettingsStore persists the backend settings edited from the admin API.
type SettingsStore interface {
	Get(ctx context.Context) (*postgres.StoredSettings, error)
	Save(ctx context.Context, s *postgres.StoredSettings) error
}

// BackendController serves the admin endpoints for the disbursement backend.
// A nil settings store means settings come from the config file and cannot be edited.
type BackendController struct {
	balance  balanceReader
	settings SettingsStore
}

func NewBackendController(balance balanceReader, settings SettingsStore) *BackendController {
	return &BackendController{balance: balance, settings: settings}
}

// Balance handles GET /api/v1/backend/balance?asset=<id>
func (h *BackendController) Balance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.balance.Execute(r.Context(), r.URL.Query().Get("asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromBalance(bal))
}

// GetSettings handles GET /api/v1/settings
func (h *BackendController) GetSettings(w http.ResponseWriter, r *http.Request) {
	if h.settings == nil {
		writeError(w, domainErrors.ErrNotSupported)
		return
	}
	s, err := h.settings.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromSettings(s))
}

// UpdateSettings handles PUT /api/v1/settings. Incomplete settings are stored
// and reported in the response; the engine refuses to run until they are fixed.
func (h *BackendController) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if h.settings == nil {
		writeError(w, domainErrors.ErrNotSupported)
		return
	}

	var req UpdateSettingsRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	s, err := h.settings.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	req.Apply(s)
	if err := h.settings.Save(r.Context(), s); err != nil {
		writeError(w, err)
		return
	}

	actor, _ := middleware.GetSubject(r.Context())
	log.Info().Str("actor", actor).Str("mode", string(s.Mode)).Msg("disbursement settings updated")

	writeJSON(w, http.StatusOK, FromSettings(s))
}

func missingSettings(cfg disbursement.BackendConfig) []string {
	var ce *domainErrors.ConfigurationError
	if err := cfg.Validate(); err != nil && errors.As(err, &ce) {
		return ce.Missing
	}
	return nil
}

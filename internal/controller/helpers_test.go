package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domainErrors.NewValidationError("destination_address", "please enter your Liquid address"), http.StatusBadRequest, "validation_error"},
		{"unit not found", domainErrors.ErrUnitNotFound, http.StatusNotFound, "not_found"},
		{"wrapped duplicate unit", fmt.Errorf("create unit 7: %w", domainErrors.ErrDuplicateUnit), http.StatusConflict, "duplicate_unit"},
		{"already terminal", domainErrors.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
		{"order locked", fmt.Errorf("lock:order:7: %w", domainErrors.ErrLockAcquisitionFailed), http.StatusConflict, "order_locked"},
		{"configuration", domainErrors.NewConfigurationError("no hosted API key provided", "api_key"), http.StatusUnprocessableEntity, "not_configured"},
		{"not supported", fmt.Errorf("hosted_api backend: %w", domainErrors.ErrNotSupported), http.StatusNotImplemented, "not_supported"},
		{"backend unavailable", domainErrors.ErrBackendUnavailable, http.StatusServiceUnavailable, "backend_unavailable"},
		{"backend timeout inside backend error", domainErrors.NewBackendError("node_rpc", 0, "", domainErrors.ErrBackendTimeout), http.StatusGatewayTimeout, "backend_timeout"},
		{"backend error", domainErrors.NewBackendError("node_rpc", 401, "unauthorized", nil), http.StatusBadGateway, "backend_error"},
		{"domain error", domainErrors.NewDomainError("custom_error", "custom error message", nil), http.StatusUnprocessableEntity, "custom_error"},
		{"unknown", errors.New("connection reset by peer"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Run("message carries the error text", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, domainErrors.NewValidationError("destination_address", "please enter your Liquid address"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Contains(t, resp.Error, "destination_address")
	})

	t.Run("internal errors are opaque", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, errors.New("pq: password authentication failed for user app"))

		assert.JSONEq(t, `{"error":"internal server error","code":"internal_error"}`, w.Body.String())
	})
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed", `{invalid json}`, "body"},
		{"unknown field", `{"address":"x","extra":1}`, "body"},
		{"missing address", `{}`, "address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))

			var dst ValidateAddressRequest
			err := decodeAndValidate(req, &dst)

			var ve *domainErrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"address":"lq1qqexample"}`))

		var dst ValidateAddressRequest
		require.NoError(t, decodeAndValidate(req, &dst))
		assert.Equal(t, "lq1qqexample", dst.Address)
	})
}

func TestDecodeAndValidate_ReportsJSONFieldPath(t *testing.T) {
	body := `{"units":[{"line_item_id":"1","quantity":1},{"line_item_id":"2","quantity":0}]}`
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))

	var dst RegisterUnitsRequest
	err := decodeAndValidate(req, &dst)

	var ve *domainErrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "units[1].quantity", ve.Field)
	assert.Equal(t, "required validation failed", ve.Message)
}

func TestDecodeOptional(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		source  string
		wantErr bool
	}{
		{"empty body", "", "", false},
		{"with source", `{"source":"woocommerce"}`, "woocommerce", false},
		{"malformed", `{"source":`, "", true},
		{"too long", `{"source":"` + strings.Repeat("x", 65) + `"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))

			var dst PaymentCompletedRequest
			err := decodeOptional(req, &dst)
			if tt.wantErr {
				assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.source, dst.Source)
		})
	}
}

package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

const maxBodySize = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// statusFor maps sentinel errors to an HTTP status and a client-facing code.
var statusFor = []struct {
	target error
	status int
	code   string
}{
	{domainErrors.ErrUnitNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrDuplicateUnit, http.StatusConflict, "duplicate_unit"},
	{domainErrors.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrLockAcquisitionFailed, http.StatusConflict, "order_locked"},
	{domainErrors.ErrConfiguration, http.StatusUnprocessableEntity, "not_configured"},
	{domainErrors.ErrUnknownMode, http.StatusUnprocessableEntity, "unknown_mode"},
	{domainErrors.ErrNotSupported, http.StatusNotImplemented, "not_supported"},
	{domainErrors.ErrBackendUnavailable, http.StatusServiceUnavailable, "backend_unavailable"},
	{domainErrors.ErrBackendTimeout, http.StatusGatewayTimeout, "backend_timeout"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code, msg := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("unhandled error in handler")
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// classify picks the response for err. Anything unrecognised becomes an
// opaque 500 so internal details never reach the client.
func classify(err error) (status int, code, msg string) {
	var ve *domainErrors.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, "validation_error", err.Error()
	}
	for _, m := range statusFor {
		if errors.Is(err, m.target) {
			return m.status, m.code, err.Error()
		}
	}
	var be *domainErrors.BackendError
	if errors.As(err, &be) {
		return http.StatusBadGateway, "backend_error", err.Error()
	}
	var de *domainErrors.DomainError
	if errors.As(err, &de) {
		return http.StatusUnprocessableEntity, de.Code, err.Error()
	}
	return http.StatusInternalServerError, "internal_error", "internal server error"
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return validateStruct(dst)
}

// decodeOptional is decodeAndValidate for endpoints whose body may be empty.
func decodeOptional(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil && !errors.Is(err, io.EOF) {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return validateStruct(dst)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func validateStruct(dst any) error {
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return domainErrors.NewValidationError(fieldPath(ve[0]), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}

// fieldPath drops the struct name from the namespace, e.g. "units[0].quantity".
func fieldPath(fe validator.FieldError) string {
	_, path, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return path
}

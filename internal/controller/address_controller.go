package controller

import (
	"context"
	"net/http"
	"strings"
)

type addressChecker interface {
	IsValid(ctx context.Context, address string) bool
}

// AddressController exposes destination address validation to the storefront.
type AddressController struct {
	validator addressChecker
}

func NewAddressController(validator addressChecker) *AddressController {
	return &AddressController{validator: validator}
}

// Validate handles POST /api/v1/addresses/validate
func (h *AddressController) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateAddressRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	address := strings.TrimSpace(req.Address)
	writeJSON(w, http.StatusOK, ValidateAddressResponse{
		Address: address,
		Valid:   h.validator.IsValid(r.Context(), address),
	})
}

package controller

import (
	"time"

	appDisbursement "github.com/cassiomorais/disbursements/internal/application/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/cassiomorais/disbursements/internal/repository/postgres"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (string IDs, validation tags).
// Controllers convert them to use case inputs before calling business logic.

// PaymentCompletedRequest is the optional body of the payment hook.
type PaymentCompletedRequest struct {
	Source string `json:"source" validate:"omitempty,max=64"`
}

// RegisterUnitsRequest registers the asset-carrying line items of an order.
type RegisterUnitsRequest struct {
	Units []UnitRequest `json:"units" validate:"required,min=1,max=100,dive"`
}

// UnitRequest is one line item. Asset IDs are 32-byte hex strings.
type UnitRequest struct {
	LineItemID         string `json:"line_item_id" validate:"required,max=64"`
	SKU                string `json:"sku" validate:"max=128"`
	DestinationAddress string `json:"destination_address" validate:"max=128"`
	AssetID            string `json:"asset_id" validate:"omitempty,hexadecimal,len=64"`
	Quantity           int64  `json:"quantity" validate:"required,gt=0"`
}

// ValidateAddressRequest asks whether an address may receive assets.
type ValidateAddressRequest struct {
	Address string `json:"address" validate:"required,max=128"`
}

// UpdateSettingsRequest replaces the backend settings. A nil secret keeps the stored value.
type UpdateSettingsRequest struct {
	Mode        string  `json:"mode" validate:"omitempty,oneof=hosted_api node_rpc"`
	APIKey      *string `json:"api_key,omitempty"`
	RPCHost     string  `json:"rpc_host" validate:"omitempty,url"`
	RPCUser     string  `json:"rpc_user"`
	RPCPass     *string `json:"rpc_pass,omitempty"`
	AdminEmails string  `json:"admin_emails" validate:"max=1024"`
}

// --- Response DTOs ---

// PaymentCompletedResponse acknowledges a queued disbursement run.
type PaymentCompletedResponse struct {
	OrderID   string `json:"order_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// UnitResponse represents a payable unit in API responses.
type UnitResponse struct {
	ID                 string     `json:"id"`
	OrderID            string     `json:"order_id"`
	LineItemID         string     `json:"line_item_id"`
	SKU                string     `json:"sku,omitempty"`
	DestinationAddress string     `json:"destination_address"`
	AssetID            string     `json:"asset_id,omitempty"`
	Quantity           int64      `json:"quantity"`
	SendStatus         string     `json:"send_status"`
	TxID               *string    `json:"txid,omitempty"`
	LastError          *string    `json:"last_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	SentAt             *time.Time `json:"sent_at,omitempty"`
}

// NoteResponse represents an order note.
type NoteResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportResponse is the result of an inline disbursement run.
type ReportResponse struct {
	OrderID string                `json:"order_id"`
	Mode    string                `json:"mode,omitempty"`
	Aborted bool                  `json:"aborted"`
	Reason  string                `json:"reason,omitempty"`
	Units   []UnitOutcomeResponse `json:"units"`
}

type UnitOutcomeResponse struct {
	UnitID     string `json:"unit_id"`
	LineItemID string `json:"line_item_id"`
	Outcome    string `json:"outcome"`
	TxID       string `json:"txid,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ValidateAddressResponse reports the verdict for an address.
type ValidateAddressResponse struct {
	Address string `json:"address"`
	Valid   bool   `json:"valid"`
}

// BalanceResponse represents a wallet balance. Amount is in network denomination.
type BalanceResponse struct {
	AssetID   string `json:"asset_id"`
	Amount    string `json:"amount"`
	BaseUnits int64  `json:"base_units"`
}

// SettingsResponse shows the stored settings with secrets redacted.
// Missing lists credentials the selected mode still needs.
type SettingsResponse struct {
	Mode        string   `json:"mode"`
	APIKeySet   bool     `json:"api_key_set"`
	RPCHost     string   `json:"rpc_host"`
	RPCUser     string   `json:"rpc_user"`
	RPCPassSet  bool     `json:"rpc_pass_set"`
	AdminEmails []string `json:"admin_emails"`
	Missing     []string `json:"missing,omitempty"`
}

// HealthResponse is the body of the probe endpoints. Checks maps each
// dependency to "up" or "down" on readiness.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// ToUnitInputs converts the request lines to use case input.
func (r *RegisterUnitsRequest) ToUnitInputs() []appDisbursement.UnitInput {
	inputs := make([]appDisbursement.UnitInput, 0, len(r.Units))
	for _, u := range r.Units {
		inputs = append(inputs, appDisbursement.UnitInput{
			LineItemID:         u.LineItemID,
			SKU:                u.SKU,
			DestinationAddress: u.DestinationAddress,
			AssetID:            u.AssetID,
			Quantity:           u.Quantity,
		})
	}
	return inputs
}

// FromUnit converts a domain unit to API response.
func FromUnit(u *disbursement.PayableUnit) *UnitResponse {
	return &UnitResponse{
		ID:                 u.ID.String(),
		OrderID:            u.OrderID,
		LineItemID:         u.LineItemID,
		SKU:                u.SKU,
		DestinationAddress: u.DestinationAddress,
		AssetID:            u.AssetID,
		Quantity:           u.Quantity,
		SendStatus:         sendStatusLabel(u.SendStatus),
		TxID:               u.TxID,
		LastError:          u.LastError,
		CreatedAt:          u.CreatedAt,
		SentAt:             u.SentAt,
	}
}

func FromUnits(units []*disbursement.PayableUnit) []*UnitResponse {
	resp := make([]*UnitResponse, 0, len(units))
	for _, u := range units {
		resp = append(resp, FromUnit(u))
	}
	return resp
}

func FromNotes(notes []*disbursement.OrderNote) []*NoteResponse {
	resp := make([]*NoteResponse, 0, len(notes))
	for _, n := range notes {
		resp = append(resp, &NoteResponse{ID: n.ID.String(), Message: n.Message, CreatedAt: n.CreatedAt})
	}
	return resp
}

// FromReport converts an engine report to API response.
func FromReport(r *disbursement.Report) *ReportResponse {
	resp := &ReportResponse{
		OrderID: r.OrderID,
		Mode:    string(r.Mode),
		Aborted: r.Aborted,
		Reason:  r.Reason,
		Units:   make([]UnitOutcomeResponse, 0, len(r.Units)),
	}
	for _, u := range r.Units {
		resp.Units = append(resp.Units, UnitOutcomeResponse{
			UnitID:     u.UnitID.String(),
			LineItemID: u.LineItemID,
			Outcome:    string(u.Outcome),
			TxID:       u.TxID,
			Error:      u.Error,
		})
	}
	return resp
}

func FromBalance(b *appDisbursement.Balance) *BalanceResponse {
	return &BalanceResponse{
		AssetID:   b.AssetID,
		Amount:    b.Amount.StringFixed(8),
		BaseUnits: b.BaseUnits,
	}
}

// FromSettings redacts secrets and reports what the selected mode is missing.
func FromSettings(s *postgres.StoredSettings) *SettingsResponse {
	cfg := s.BackendConfig()
	resp := &SettingsResponse{
		Mode:        string(s.Mode),
		APIKeySet:   s.APIKey != "",
		RPCHost:     s.RPCHost,
		RPCUser:     s.RPCUser,
		RPCPassSet:  s.RPCPass != "",
		AdminEmails: cfg.AdminEmails,
		Missing:     missingSettings(cfg),
	}
	if resp.AdminEmails == nil {
		resp.AdminEmails = []string{}
	}
	return resp
}

// Apply merges the request into the stored settings.
func (r *UpdateSettingsRequest) Apply(s *postgres.StoredSettings) {
	s.Mode = disbursement.Mode(r.Mode)
	s.RPCHost = r.RPCHost
	s.RPCUser = r.RPCUser
	s.AdminEmails = r.AdminEmails
	if r.APIKey != nil {
		s.APIKey = *r.APIKey
	}
	if r.RPCPass != nil {
		s.RPCPass = *r.RPCPass
	}
}

func sendStatusLabel(s disbursement.SendStatus) string {
	if s == disbursement.StatusUnset {
		return "unset"
	}
	return string(s)
}

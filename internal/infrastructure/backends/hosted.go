package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/errors"
)

const (
	HostedAPIName             = "hosted_api"
	DefaultHostedAPIEndpoint  = "https://coinos.io/api/liquid/send"
	DefaultHostedAPIFeeRate   = 100
	DefaultHostedAPITimeout   = 25 * time.Second
	acceptedWithoutTxIDMarker = "accepted"
)

// HostedAPIConfig configures a HostedAPIBackend.
type HostedAPIConfig struct {
	Endpoint   string
	APIKey     string
	FeeRate    int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HostedAPIBackend sends assets from a custodial wallet behind a bearer-token HTTP API.
type HostedAPIBackend struct {
	endpoint   string
	apiKey     string
	feeRate    int
	httpClient *http.Client
}

type hostedSendRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
	FeeRate int    `json:"feeRate"`
}

func NewHostedAPIBackend(cfg HostedAPIConfig) (*HostedAPIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("hosted api backend: %w", errors.ErrMissingCredentials)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultHostedAPIEndpoint
	}
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = DefaultHostedAPIFeeRate
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultHostedAPITimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HostedAPIBackend{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		feeRate:    cfg.FeeRate,
		httpClient: client,
	}, nil
}

func (b *HostedAPIBackend) Name() string { return HostedAPIName }

// Send posts the transfer and treats HTTP 200 as success. The API does not guarantee a
// transaction ID in the body, so the receipt falls back to a fixed marker.
func (b *HostedAPIBackend) Send(ctx context.Context, req disbursement.TransferRequest) (*disbursement.TransferReceipt, error) {
	if req.DestinationAddress == "" || req.AssetID == "" || req.Quantity <= 0 {
		return nil, errors.NewDomainError("INVALID_TRANSFER", "address, asset and positive quantity are required", errors.ErrInvalidTransfer)
	}

	body, err := json.Marshal(hostedSendRequest{
		Address: req.DestinationAddress,
		Asset:   req.AssetID,
		Amount:  req.Quantity,
		FeeRate: b.feeRate,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewBackendError(HostedAPIName, 0, "hosted API error: "+err.Error(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(HostedAPIName, "hosted API error: ", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("hosted API error: (%d) %s", httpResp.StatusCode, http.StatusText(httpResp.StatusCode))
		return nil, errors.NewBackendError(HostedAPIName, httpResp.StatusCode, msg, nil)
	}

	raw, _ := io.ReadAll(httpResp.Body)
	receipt := &disbursement.TransferReceipt{TxID: acceptedWithoutTxIDMarker}

	var decoded struct {
		TxID string `json:"txid"`
	}
	if json.Unmarshal(raw, &decoded) == nil {
		receipt.Raw = raw
		if decoded.TxID != "" {
			receipt.TxID = decoded.TxID
		}
	}
	return receipt, nil
}

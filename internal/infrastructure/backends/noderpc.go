package backends

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/shopspring/decimal"
)

const (
	NodeRPCName       = "node_rpc"
	DefaultRPCTimeout = 20 * time.Second

	rpcVersion = "1.0"
	rpcID      = "disbursements"
)

// NodeRPCConfig configures a NodeRPCBackend.
type NodeRPCConfig struct {
	Host       string
	User       string
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NodeRPCBackend sends assets through the JSON-RPC interface of an Elements node.
type NodeRPCBackend struct {
	host       string
	user       string
	password   string
	httpClient *http.Client
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     json.RawMessage `json:"id"`
}

func NewNodeRPCBackend(cfg NodeRPCConfig) (*NodeRPCBackend, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.Password == "" {
		return nil, fmt.Errorf("node rpc backend: %w", errors.ErrMissingCredentials)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultRPCTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &NodeRPCBackend{
		host:       cfg.Host,
		user:       cfg.User,
		password:   cfg.Password,
		httpClient: client,
	}, nil
}

func (b *NodeRPCBackend) Name() string { return NodeRPCName }

// Send calls sendtoaddress. The node's result string is the transaction ID; a missing
// or null result yields an empty receipt which callers must treat as a failed send.
func (b *NodeRPCBackend) Send(ctx context.Context, req disbursement.TransferRequest) (*disbursement.TransferReceipt, error) {
	params := []any{
		req.DestinationAddress,
		FormatBaseUnits(req.Quantity),
		"",
		"",
		false,
		true,
		1,
		"UNSET",
		req.AssetID,
	}

	resp, raw, err := b.call(ctx, "sendtoaddress", params)
	if err != nil {
		return nil, err
	}

	receipt := &disbursement.TransferReceipt{Raw: raw}
	var txID string
	if len(resp.Result) > 0 && json.Unmarshal(resp.Result, &txID) == nil {
		receipt.TxID = txID
	}
	return receipt, nil
}

// ValidateAddress asks the node whether address is valid on its network.
func (b *NodeRPCBackend) ValidateAddress(ctx context.Context, address string) (bool, error) {
	resp, _, err := b.call(ctx, "validateaddress", []any{address})
	if err != nil {
		return false, err
	}

	var result struct {
		IsValid bool `json:"isvalid"`
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return false, errors.NewBackendError(NodeRPCName, http.StatusOK, "RPC error: empty validateaddress result", errors.ErrEmptyReceipt)
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return false, errors.NewBackendError(NodeRPCName, http.StatusOK, "RPC error: malformed validateaddress result", err)
	}
	return result.IsValid, nil
}

// Balance returns the confirmed wallet balance of assetID in the network denomination.
func (b *NodeRPCBackend) Balance(ctx context.Context, assetID string) (decimal.Decimal, error) {
	resp, _, err := b.call(ctx, "getbalance", []any{"*", 1, false, assetID})
	if err != nil {
		return decimal.Zero, err
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return decimal.Zero, errors.NewBackendError(NodeRPCName, http.StatusOK, "RPC error: empty getbalance result", errors.ErrEmptyReceipt)
	}

	var amount decimal.Decimal
	if err := json.Unmarshal(resp.Result, &amount); err == nil {
		return amount, nil
	}

	// Without an asset filter the node answers with a map of asset label to amount.
	var byAsset map[string]decimal.Decimal
	if err := json.Unmarshal(resp.Result, &byAsset); err != nil {
		return decimal.Zero, errors.NewBackendError(NodeRPCName, http.StatusOK, "RPC error: malformed getbalance result", err)
	}
	return byAsset[assetID], nil
}

func (b *NodeRPCBackend) call(ctx context.Context, method string, params []any) (*rpcResponse, json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: rpcVersion,
		ID:      rpcID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.host, bytes.NewReader(body))
	if err != nil {
		return nil, nil, errors.NewBackendError(NodeRPCName, 0, "RPC error: "+err.Error(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(b.user, b.password)

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, transportError(NodeRPCName, "RPC error: ", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, nil, errors.NewBackendError(NodeRPCName, httpResp.StatusCode, "RPC error: read response: "+err.Error(), err)
	}

	var resp rpcResponse
	decodeErr := json.Unmarshal(raw, &resp)

	if httpResp.StatusCode != http.StatusOK {
		var msg string
		if decodeErr == nil && resp.Error != nil {
			msg = fmt.Sprintf("(%d) %s", resp.Error.Code, resp.Error.Message)
		} else {
			msg = fmt.Sprintf("(%d) %s", httpResp.StatusCode, http.StatusText(httpResp.StatusCode))
		}
		return nil, nil, errors.NewBackendError(NodeRPCName, httpResp.StatusCode, "RPC error: "+msg, nil)
	}

	if decodeErr != nil {
		return nil, nil, errors.NewBackendError(NodeRPCName, httpResp.StatusCode, "RPC error: invalid JSON response", decodeErr)
	}
	if resp.Error != nil {
		msg := fmt.Sprintf("RPC error: (%d) %s", resp.Error.Code, resp.Error.Message)
		return nil, nil, errors.NewBackendError(NodeRPCName, httpResp.StatusCode, msg, nil)
	}

	return &resp, raw, nil
}

// transportError maps a failed round trip to a BackendError with code 0.
func transportError(backend, prefix string, err error) *errors.BackendError {
	var netErr net.Error
	if stdErrors.Is(err, context.DeadlineExceeded) || (stdErrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.NewBackendError(backend, 0, prefix+"request timed out", fmt.Errorf("%w: %v", errors.ErrBackendTimeout, err))
	}
	return errors.NewBackendError(backend, 0, prefix+err.Error(), err)
}

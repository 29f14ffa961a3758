package backends

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNodeRPC(t *testing.T, handler http.HandlerFunc) *NodeRPCBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b, err := NewNodeRPCBackend(NodeRPCConfig{Host: srv.URL, User: "rpcuser", Password: "rpcpass"})
	require.NoError(t, err)
	return b
}

func decodeRPCRequest(t *testing.T, r *http.Request) rpcRequest {
	t.Helper()
	var req rpcRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestNewNodeRPCBackend_MissingCredentials(t *testing.T) {
	tests := []NodeRPCConfig{
		{User: "u", Password: "p"},
		{Host: "http://node", Password: "p"},
		{Host: "http://node", User: "u"},
	}
	for _, cfg := range tests {
		_, err := NewNodeRPCBackend(cfg)
		assert.ErrorIs(t, err, errors.ErrMissingCredentials)
	}
}

func TestNodeRPCBackend_Send_Success(t *testing.T) {
	b := newTestNodeRPC(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rpcuser", user)
		assert.Equal(t, "rpcpass", pass)

		req := decodeRPCRequest(t, r)
		assert.Equal(t, "1.0", req.JSONRPC)
		assert.Equal(t, "disbursements", req.ID)
		assert.Equal(t, "sendtoaddress", req.Method)
		require.Len(t, req.Params, 9)
		assert.Equal(t, "lq1qqdest", req.Params[0])
		assert.Equal(t, "1.00000000", req.Params[1])
		assert.Equal(t, "", req.Params[2])
		assert.Equal(t, "", req.Params[3])
		assert.Equal(t, false, req.Params[4])
		assert.Equal(t, true, req.Params[5])
		assert.Equal(t, float64(1), req.Params[6])
		assert.Equal(t, "UNSET", req.Params[7])
		assert.Equal(t, "asset-a", req.Params[8])

		_, _ = w.Write([]byte(`{"result":"f00dtx","error":null,"id":"disbursements"}`))
	})

	receipt, err := b.Send(context.Background(), disbursement.TransferRequest{
		DestinationAddress: "lq1qqdest",
		AssetID:            "asset-a",
		Quantity:           100000000,
	})
	require.NoError(t, err)
	assert.Equal(t, "f00dtx", receipt.TxID)
	assert.True(t, receipt.Confirmed())
	assert.NotEmpty(t, receipt.Raw)
}

func TestNodeRPCBackend_Send_NoResult(t *testing.T) {
	b := newTestNodeRPC(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"disbursements"}`))
	})

	receipt, err := b.Send(context.Background(), disbursement.TransferRequest{DestinationAddress: "lq1", AssetID: "a", Quantity: 1})
	require.NoError(t, err)
	assert.False(t, receipt.Confirmed())
}

func TestNodeRPCBackend_Send_Non200WithRPCError(t *testing.T) {
	b := newTestNodeRPC(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"result":null,"error":{"code":-5,"message":"bad address"},"id":"disbursements"}`))
	})

	_, err := b.Send(context.Background(), disbursement.TransferRequest{DestinationAddress: "x", AssetID: "a", Quantity: 1})

	var be *errors.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusInternalServerError, be.Code)
	assert.Equal(t, NodeRPCName, be.Backend)
	assert.Contains(t, err.Error(), "(-5) bad address")
}

func TestNodeRPCBackend_Send_Non200WithoutBody(t *testing.T) {
	b := newTestNodeRPC(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := b.Send(context.Background(), disbursement.TransferRequest{DestinationAddress: "x", AssetID: "a", Quantity: 1})

	var be *errors.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusUnauthorized, be.Code)
	assert.Equal(t, "RPC error: (401) Unauthorized", be.Error())
}

func TestNodeRPCBackend_Send_ErrorMemberOn200(t *testing.T) {
	b := newTestNodeRPC(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":null,"error":{"code":-6,"message":"Insufficient funds"},"id":"disbursements"}`))
	})

	_, err := b.Send(context.Background(), disbursement.TransferRequest{DestinationAddress: "x", AssetID: "a", Quantity: 1})

	var be *errors.BackendError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Error(), "(-6) Insufficient funds")
}

func TestNodeRPCBackend_Send_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	b, err := NewNodeRPCBackend(NodeRPCConfig{Host: srv.URL, User: "u", Password: "p", Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), disbursement.TransferRequest{DestinationAddress: "x", AssetID: "a", Quantity: 1})

	var be *errors.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 0, be.Code)
	assert.ErrorIs(t, err, errors.ErrBackendTimeout)
}

func TestNodeRPCBackend_ValidateAddress(t *testing.T) {
	b := newTestNodeRPC(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPCRequest(t, r)
		assert.Equal(t, "validateaddress", req.Method)
		if req.Params[0] == "good" {
			_, _ = w.Write([]byte(`{"result":{"isvalid":true},"error":null}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":{"isvalid":false},"error":null}`))
	})

	ok, err := b.ValidateAddress(context.Background(), "good")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.ValidateAddress(context.Background(), "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNodeRPCBackend_Balance(t *testing.T) {
	b := newTestNodeRPC(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPCRequest(t, r)
		assert.Equal(t, "getbalance", req.Method)
		assert.Equal(t, []any{"*", float64(1), false, "asset-a"}, req.Params)
		_, _ = w.Write([]byte(`{"result":12.5,"error":null}`))
	})

	bal, err := b.Balance(context.Background(), "asset-a")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(bal))
}

func TestNodeRPCBackend_Balance_AssetMap(t *testing.T) {
	b := newTestNodeRPC(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"bitcoin":0.1,"asset-a":3},"error":null}`))
	})

	bal, err := b.Balance(context.Background(), "asset-a")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3).Equal(bal))
}

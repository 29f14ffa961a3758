package backends

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHosted(t *testing.T, handler http.HandlerFunc) *HostedAPIBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b, err := NewHostedAPIBackend(HostedAPIConfig{Endpoint: srv.URL, APIKey: "token"})
	require.NoError(t, err)
	return b
}

func TestNewHostedAPIBackend_MissingKey(t *testing.T) {
	_, err := NewHostedAPIBackend(HostedAPIConfig{})
	assert.ErrorIs(t, err, errors.ErrMissingCredentials)
}

func TestNewHostedAPIBackend_Defaults(t *testing.T) {
	b, err := NewHostedAPIBackend(HostedAPIConfig{APIKey: "token"})
	require.NoError(t, err)
	assert.Equal(t, DefaultHostedAPIEndpoint, b.endpoint)
	assert.Equal(t, DefaultHostedAPIFeeRate, b.feeRate)
	assert.Equal(t, DefaultHostedAPITimeout, b.httpClient.Timeout)
}

func TestHostedAPIBackend_Send_Success(t *testing.T) {
	b := newTestHosted(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body hostedSendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, hostedSendRequest{Address: "lq1qqdest", Asset: "asset-a", Amount: 5, FeeRate: 100}, body)

		_, _ = w.Write([]byte(`{"txid":"abc123"}`))
	})

	receipt, err := b.Send(context.Background(), disbursement.TransferRequest{DestinationAddress: "lq1qqdest", AssetID: "asset-a", Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, "abc123", receipt.TxID)
}

func TestHostedAPIBackend_Send_SuccessWithoutTxID(t *testing.T) {
	b := newTestHosted(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`ok`))
	})

	receipt, err := b.Send(context.Background(), disbursement.TransferRequest{DestinationAddress: "a", AssetID: "b", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, "accepted", receipt.TxID)
	assert.True(t, receipt.Confirmed())
}

func TestHostedAPIBackend_Send_Non200(t *testing.T) {
	b := newTestHosted(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"txid":"should-not-be-read"}`))
	})

	receipt, err := b.Send(context.Background(), disbursement.TransferRequest{DestinationAddress: "a", AssetID: "b", Quantity: 1})
	assert.Nil(t, receipt)

	var be *errors.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusBadRequest, be.Code)
	assert.Equal(t, HostedAPIName, be.Backend)
}

func TestHostedAPIBackend_Send_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	b, err := NewHostedAPIBackend(HostedAPIConfig{Endpoint: srv.URL, APIKey: "token"})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), disbursement.TransferRequest{DestinationAddress: "a", AssetID: "b", Quantity: 1})

	var be *errors.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 0, be.Code)
}

func TestHostedAPIBackend_Send_InputGuard(t *testing.T) {
	var hits atomic.Int32
	b := newTestHosted(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	tests := []disbursement.TransferRequest{
		{AssetID: "b", Quantity: 1},
		{DestinationAddress: "a", Quantity: 1},
		{DestinationAddress: "a", AssetID: "b"},
		{DestinationAddress: "a", AssetID: "b", Quantity: -1},
	}
	for _, req := range tests {
		_, err := b.Send(context.Background(), req)
		assert.ErrorIs(t, err, errors.ErrInvalidTransfer)
	}
	assert.Equal(t, int32(0), hits.Load())
}

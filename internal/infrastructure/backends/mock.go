package backends

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockBackend simulates a wallet for local runs. It never moves funds.
type MockBackend struct {
	name        string
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	timeoutRate float64 // 0.0 to 1.0
	emptyResult bool
	balance     decimal.Decimal
	calls       atomic.Int64
}

type MockBackendOption func(*MockBackend)

func WithFailureRate(rate float64) MockBackendOption {
	return func(b *MockBackend) { b.failureRate = rate }
}

func WithLatency(d time.Duration) MockBackendOption {
	return func(b *MockBackend) { b.latency = d }
}

func WithTimeoutRate(rate float64) MockBackendOption {
	return func(b *MockBackend) { b.timeoutRate = rate }
}

// WithEmptyResult makes every send answer without a transaction ID.
func WithEmptyResult() MockBackendOption {
	return func(b *MockBackend) { b.emptyResult = true }
}

func WithBalance(d decimal.Decimal) MockBackendOption {
	return func(b *MockBackend) { b.balance = d }
}

func NewMockBackend(name string, opts ...MockBackendOption) *MockBackend {
	b := &MockBackend{
		name:    name,
		latency: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *MockBackend) Name() string { return b.name }

// Calls returns how many sends reached the backend.
func (b *MockBackend) Calls() int64 { return b.calls.Load() }

func (b *MockBackend) Send(ctx context.Context, req disbursement.TransferRequest) (*disbursement.TransferReceipt, error) {
	b.calls.Add(1)

	select {
	case <-time.After(b.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rand.Float64() < b.timeoutRate {
		return nil, errors.NewBackendError(b.name, 0, b.name+": request timed out", errors.ErrBackendTimeout)
	}

	if rand.Float64() < b.failureRate {
		return nil, errors.NewBackendError(b.name, 500,
			fmt.Sprintf("%s: simulated send failure for asset %s", b.name, req.AssetID), nil)
	}

	if b.emptyResult {
		return &disbursement.TransferReceipt{}, nil
	}

	return &disbursement.TransferReceipt{
		TxID: fmt.Sprintf("%s_tx_%s", b.name, uuid.New().String()[:8]),
	}, nil
}

// ValidateAddress accepts anything the static rules accept.
func (b *MockBackend) ValidateAddress(ctx context.Context, address string) (bool, error) {
	return disbursement.MatchesStaticAddressRules(address), nil
}

func (b *MockBackend) Balance(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return b.balance, nil
}

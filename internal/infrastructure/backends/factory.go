package backends

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/sony/gobreaker/v2"
)

// FactoryConfig holds the backend tunables that are not part of the per-call settings.
type FactoryConfig struct {
	HostedAPIEndpoint string
	FeeRate           int
	RPCTimeout        time.Duration
	HostedTimeout     time.Duration
	HTTPClient        *http.Client
}

// StateChangeFunc is notified when a backend breaker changes state.
type StateChangeFunc func(backend string, from, to gobreaker.State)

// Factory builds the backend for a BackendConfig. Breakers are kept per mode so that
// their counts survive the fresh settings load of every disbursement run.
type Factory struct {
	cfg           FactoryConfig
	onStateChange StateChangeFunc

	mu              sync.Mutex
	circuitBreakers map[disbursement.Mode]*gobreaker.CircuitBreaker[*disbursement.TransferReceipt]
	overrides       map[disbursement.Mode]Backend
}

func NewFactory(cfg FactoryConfig, onStateChange StateChangeFunc) *Factory {
	return &Factory{
		cfg:             cfg,
		onStateChange:   onStateChange,
		circuitBreakers: make(map[disbursement.Mode]*gobreaker.CircuitBreaker[*disbursement.TransferReceipt]),
		overrides:       make(map[disbursement.Mode]Backend),
	}
}

// Register installs a fixed backend for a mode, replacing the network implementation.
// Used for local runs against MockBackend.
func (f *Factory) Register(mode disbursement.Mode, b Backend) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[mode] = b
}

// Build validates cfg and returns the backend for its mode wrapped in the mode's breaker.
func (f *Factory) Build(cfg disbursement.BackendConfig) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	inner, err := f.newBackend(cfg)
	if err != nil {
		return nil, err
	}

	return &breakerBackend{inner: inner, breaker: f.breaker(cfg.Mode)}, nil
}

// ValidatorFor returns the authoritative address checker for cfg, if the mode has one
// and its credentials are complete.
func (f *Factory) ValidatorFor(cfg disbursement.BackendConfig) (AddressChecker, bool) {
	if !cfg.HasAuthoritativeValidation() || cfg.Validate() != nil {
		return nil, false
	}
	b, err := f.newBackend(cfg)
	if err != nil {
		return nil, false
	}
	return AsAddressChecker(b)
}

// State returns the breaker state of a mode. Modes never built report closed.
func (f *Factory) State(mode disbursement.Mode) gobreaker.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.circuitBreakers[mode]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func (f *Factory) newBackend(cfg disbursement.BackendConfig) (Backend, error) {
	f.mu.Lock()
	override, ok := f.overrides[cfg.Mode]
	f.mu.Unlock()
	if ok {
		return override, nil
	}

	switch cfg.Mode {
	case disbursement.ModeNodeRPC:
		return NewNodeRPCBackend(NodeRPCConfig{
			Host:       cfg.RPCHost,
			User:       cfg.RPCUser,
			Password:   cfg.RPCPass,
			Timeout:    f.cfg.RPCTimeout,
			HTTPClient: f.cfg.HTTPClient,
		})
	case disbursement.ModeHostedAPI:
		return NewHostedAPIBackend(HostedAPIConfig{
			Endpoint:   f.cfg.HostedAPIEndpoint,
			APIKey:     cfg.APIKey,
			FeeRate:    f.cfg.FeeRate,
			Timeout:    f.cfg.HostedTimeout,
			HTTPClient: f.cfg.HTTPClient,
		})
	default:
		return nil, fmt.Errorf("build backend %q: %w", cfg.Mode, errors.ErrUnknownMode)
	}
}

func (f *Factory) breaker(mode disbursement.Mode) *gobreaker.CircuitBreaker[*disbursement.TransferReceipt] {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.circuitBreakers[mode]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        string(mode),
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		// Rejected input says nothing about the health of the backend.
		IsExcluded: func(err error) bool {
			return stdErrors.Is(err, errors.ErrInvalidTransfer)
		},
	}
	if f.onStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			f.onStateChange(name, from, to)
		}
	}

	cb := gobreaker.NewCircuitBreaker[*disbursement.TransferReceipt](settings)
	f.circuitBreakers[mode] = cb
	return cb
}

// breakerBackend routes Send through a circuit breaker. An open breaker means no request
// left the process, which is reported as ErrBackendUnavailable.
type breakerBackend struct {
	inner   Backend
	breaker *gobreaker.CircuitBreaker[*disbursement.TransferReceipt]
}

func (b *breakerBackend) Name() string { return b.inner.Name() }

func (b *breakerBackend) Unwrap() Backend { return b.inner }

func (b *breakerBackend) Send(ctx context.Context, req disbursement.TransferRequest) (*disbursement.TransferReceipt, error) {
	receipt, err := b.breaker.Execute(func() (*disbursement.TransferReceipt, error) {
		return b.inner.Send(ctx, req)
	})
	if stdErrors.Is(err, gobreaker.ErrOpenState) || stdErrors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.NewDomainError("BACKEND_UNAVAILABLE",
			fmt.Sprintf("%s circuit breaker is %s", b.inner.Name(), b.breaker.State()),
			errors.ErrBackendUnavailable)
	}
	return receipt, err
}

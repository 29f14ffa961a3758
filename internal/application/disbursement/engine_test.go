package disbursement_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	app "github.com/cassiomorais/disbursements/internal/application/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/cassiomorais/disbursements/internal/infrastructure/backends"
	"github.com/cassiomorais/disbursements/internal/testutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	units    *testutil.MockUnitRepository
	notifier *testutil.MockNotifier
	settings *testutil.MockSettingsLoader
	backend  *testutil.MockBackend
	factory  *testutil.MockBackendFactory
}

func newEngineFixture(cfg disbursement.BackendConfig) *engineFixture {
	backend := &testutil.MockBackend{NameV: string(cfg.Mode)}
	return &engineFixture{
		units:    testutil.NewMockUnitRepository(),
		notifier: testutil.NewMockNotifier(),
		settings: &testutil.MockSettingsLoader{Config: cfg},
		backend:  backend,
		factory:  &testutil.MockBackendFactory{Backend: backend},
	}
}

func (f *engineFixture) engine(cfg app.EngineConfig) *app.Engine {
	return app.NewEngine(f.settings, f.units, f.notifier, f.factory, nil, zerolog.Nop(), cfg)
}

func TestEngine_SendsUnattemptedUnits(t *testing.T) {
	f := newEngineFixture(testutil.HostedAPIConfig())
	u1 := testutil.NewTestUnit("order-1", "1", 5)
	u2 := testutil.NewTestUnit("order-1", "2", 7)
	f.units.AddUnit(u1)
	f.units.AddUnit(u2)

	report := f.engine(app.EngineConfig{}).Disburse(context.Background(), "order-1")

	assert.False(t, report.Aborted)
	assert.Equal(t, 2, report.Count(disbursement.OutcomeSent))
	assert.Equal(t, disbursement.StatusSuccess, f.units.Status(u1.ID))
	assert.Equal(t, disbursement.StatusSuccess, f.units.Status(u2.ID))
	require.Len(t, f.backend.Sent, 2)
	assert.Equal(t, int64(5), f.backend.Sent[0].Quantity)
	assert.Equal(t, testutil.TestAssetID, f.backend.Sent[0].AssetID)
	assert.Equal(t, 2, f.notifier.CountNotes(app.MsgTrying))
	assert.Empty(t, f.notifier.Admins)
	assert.Contains(t, f.notifier.Notes[1], "Successfully sent Liquid asset via hosted API. TXID: tx-")
}

func TestEngine_IdempotentAcrossRuns(t *testing.T) {
	f := newEngineFixture(testutil.HostedAPIConfig())
	f.units.AddUnit(testutil.NewTestUnit("order-1", "1", 1))
	f.units.AddUnit(testutil.NewTestUnit("order-1", "2", 1))
	engine := f.engine(app.EngineConfig{})

	first := engine.Disburse(context.Background(), "order-1")
	second := engine.Disburse(context.Background(), "order-1")

	assert.Equal(t, 2, first.Count(disbursement.OutcomeSent))
	assert.Equal(t, 2, second.Count(disbursement.OutcomeAlreadySent))
	assert.Equal(t, 2, f.backend.SendCount())
	assert.Equal(t, 2, f.settings.Calls())
}

func TestEngine_AlreadySent_NoBackendCall(t *testing.T) {
	f := newEngineFixture(testutil.HostedAPIConfig())
	u := testutil.NewSentUnit("order-1", "1", "tx-old")
	f.units.AddUnit(u)

	report := f.engine(app.EngineConfig{}).Disburse(context.Background(), "order-1")

	assert.Equal(t, 0, f.backend.SendCount())
	assert.Equal(t, 1, f.notifier.CountNotes(app.MsgAlreadySent))
	assert.Empty(t, f.notifier.Admins)
	assert.Equal(t, disbursement.StatusSuccess, f.units.Status(u.ID))
	require.Len(t, report.Units, 1)
	assert.Equal(t, "tx-old", report.Units[0].TxID)
}

func TestEngine_PreviouslyFailed_NotifiesAdmin(t *testing.T) {
	f := newEngineFixture(testutil.HostedAPIConfig())
	f.units.AddUnit(testutil.NewFailedUnit("order-9", "1", "timeout"))

	report := f.engine(app.EngineConfig{}).Disburse(context.Background(), "order-9")

	assert.Equal(t, 0, f.backend.SendCount())
	assert.Equal(t, 1, report.Count(disbursement.OutcomePreviouslyFailed))
	assert.Equal(t, 1, f.notifier.CountNotes(app.MsgPreviouslyFailed))
	require.Len(t, f.notifier.Admins, 1)
	assert.Equal(t, app.MsgPreviouslyFailed+" Order ID: order-9", f.notifier.Admins[0].Message)
	assert.Equal(t, []string{"admin@shop.tld"}, f.notifier.Admins[0].Recipients)
}

func TestEngine_HandledUnitPolicy(t *testing.T) {
	tests := []struct {
		name         string
		stop         bool
		expectedSent int
		expectedLast disbursement.Outcome
	}{
		{"per-unit independence", false, 1, disbursement.OutcomeSent},
		{"stop on handled unit", true, 0, disbursement.OutcomeNotReached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(testutil.HostedAPIConfig())
			f.units.AddUnit(testutil.NewSentUnit("order-1", "1", "tx-old"))
			pending := testutil.NewTestUnit("order-1", "2", 1)
			f.units.AddUnit(pending)

			report := f.engine(app.EngineConfig{StopOnHandledUnit: tt.stop}).Disburse(context.Background(), "order-1")

			assert.Equal(t, tt.expectedSent, f.backend.SendCount())
			require.Len(t, report.Units, 2)
			assert.Equal(t, tt.expectedLast, report.Units[1].Outcome)
			if tt.stop {
				assert.Equal(t, disbursement.StatusUnset, f.units.Status(pending.ID))
			}
		})
	}
}

func TestEngine_MissingAssetID_LeavesStatusAndContinues(t *testing.T) {
	f := newEngineFixture(testutil.HostedAPIConfig())
	noAsset := testutil.NewTestUnit("order-1", "1", 1)
	noAsset.AssetID = ""
	next := testutil.NewTestUnit("order-1", "2", 1)
	f.units.AddUnit(noAsset)
	f.units.AddUnit(next)

	report := f.engine(app.EngineConfig{}).Disburse(context.Background(), "order-1")

	assert.Equal(t, disbursement.StatusUnset, f.units.Status(noAsset.ID))
	assert.Equal(t, disbursement.StatusSuccess, f.units.Status(next.ID))
	assert.Equal(t, 1, report.Count(disbursement.OutcomeMissingAsset))
	assert.Equal(t, 1, f.backend.SendCount())
	require.Len(t, f.notifier.Admins, 1)
	assert.Contains(t, f.notifier.Admins[0].Message, "asset ID not configured on product SKU SKU-1")
}

func TestEngine_BackendError_MarksUnitError(t *testing.T) {
	f := newEngineFixture(testutil.NodeRPCConfig("http://node"))
	f.backend.SendFunc = func(ctx context.Context, req disbursement.TransferRequest) (*disbursement.TransferReceipt, error) {
		return nil, domainErrors.NewBackendError("node_rpc", 500, "RPC error: (-5) bad address", nil)
	}
	u := testutil.NewTestUnit("order-1", "1", 1)
	f.units.AddUnit(u)

	report := f.engine(app.EngineConfig{}).Disburse(context.Background(), "order-1")

	assert.Equal(t, disbursement.StatusError, f.units.Status(u.ID))
	assert.Equal(t, 1, report.Count(disbursement.OutcomeFailed))
	require.Len(t, f.notifier.Admins, 1)
	assert.Contains(t, f.notifier.Admins[0].Message, "(-5) bad address")
	assert.Contains(t, f.notifier.Admins[0].Message, "Order ID: order-1")

	stored, err := f.units.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "RPC error: (-5) bad address", *stored.LastError)
}

func TestEngine_EmptyReceipt_MarksUnitError(t *testing.T) {
	f := newEngineFixture(testutil.HostedAPIConfig())
	f.backend.SendFunc = func(ctx context.Context, req disbursement.TransferRequest) (*disbursement.TransferReceipt, error) {
		return &disbursement.TransferReceipt{}, nil
	}
	u := testutil.NewTestUnit("order-1", "1", 1)
	f.units.AddUnit(u)

	f.engine(app.EngineConfig{}).Disburse(context.Background(), "order-1")

	assert.Equal(t, disbursement.StatusError, f.units.Status(u.ID))
	require.Len(t, f.notifier.Admins, 1)
}

func TestEngine_BackendUnavailable_LeavesUnitUnattempted(t *testing.T) {
	f := newEngineFixture(testutil.HostedAPIConfig())
	f.backend.SendFunc = func(ctx context.Context, req disbursement.TransferRequest) (*disbursement.TransferReceipt, error) {
		return nil, domainErrors.NewDomainError("BACKEND_UNAVAILABLE", "breaker open", domainErrors.ErrBackendUnavailable)
	}
	u := testutil.NewTestUnit("order-1", "1", 1)
	f.units.AddUnit(u)

	report := f.engine(app.EngineConfig{}).Disburse(context.Background(), "order-1")

	assert.Equal(t, disbursement.StatusUnset, f.units.Status(u.ID))
	assert.Equal(t, 1, report.Count(disbursement.OutcomeUnavailable))
	require.Len(t, f.notifier.Admins, 1)
	assert.Contains(t, f.notifier.Admins[0].Message, "asset not sent. Re-trigger this order once the backend is back.")
	assert.NotContains(t, f.notifier.Admins[0].Message, "will be sent")
}

func TestEngine_SetStatusFailures(t *testing.T) {
	tests := []struct {
		name          string
		setErr        error
		expectedAdmin int
	}{
		{"concurrent writer won", domainErrors.ErrAlreadyTerminal, 0},
		{"store unavailable", errors.New("connection reset"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(testutil.HostedAPIConfig())
			f.backend.SendFunc = func(ctx context.Context, req disbursement.TransferRequest) (*disbursement.TransferReceipt, error) {
				return &disbursement.TransferReceipt{TxID: "tx-42"}, nil
			}
			f.units.SetStatusFunc = func(ctx context.Context, id uuid.UUID, status disbursement.SendStatus, detail string) error {
				return tt.setErr
			}
			f.units.AddUnit(testutil.NewTestUnit("order-1", "1", 1))

			report := f.engine(app.EngineConfig{}).Disburse(context.Background(), "order-1")

			assert.Equal(t, 1, report.Count(disbursement.OutcomeSent))
			require.Len(t, f.notifier.Admins, tt.expectedAdmin)
			if tt.expectedAdmin > 0 {
				assert.Contains(t, f.notifier.Admins[0].Message, "manual reconciliation")
				assert.Contains(t, f.notifier.Admins[0].Message, "tx-42")
			}
		})
	}
}

func TestEngine_NoMode_AbortsSilently(t *testing.T) {
	f := newEngineFixture(disbursement.BackendConfig{})
	f.units.AddUnit(testutil.NewTestUnit("order-1", "1", 1))

	report := f.engine(app.EngineConfig{}).Disburse(context.Background(), "order-1")

	assert.True(t, report.Aborted)
	assert.Equal(t, 0, f.factory.Builds())
	assert.Empty(t, f.notifier.Notes)
	assert.Empty(t, f.notifier.Admins)
}

func TestEngine_SettingsError_NotifiesAdmin(t *testing.T) {
	f := newEngineFixture(disbursement.BackendConfig{})
	f.settings.LoadFunc = func(ctx context.Context) (disbursement.BackendConfig, error) {
		return disbursement.BackendConfig{}, errors.New("database down")
	}

	report := f.engine(app.EngineConfig{FallbackAdminEmails: []string{"ops@shop.tld"}}).Disburse(context.Background(), "order-1")

	assert.True(t, report.Aborted)
	require.Len(t, f.notifier.Admins, 1)
	assert.Contains(t, f.notifier.Admins[0].Message, "database down")
	assert.Equal(t, []string{"ops@shop.tld"}, f.notifier.Admins[0].Recipients)
	require.Len(t, f.notifier.Notes, 1)
	assert.Contains(t, f.notifier.Notes[0], "database down")
}

func TestEngine_EmptyAdminList_UsesFallbackRecipients(t *testing.T) {
	cfg := testutil.HostedAPIConfig()
	cfg.AdminEmails = nil
	f := newEngineFixture(cfg)
	f.units.AddUnit(testutil.NewFailedUnit("order-9", "1", "timeout"))

	f.engine(app.EngineConfig{FallbackAdminEmails: []string{"ops@shop.tld"}}).Disburse(context.Background(), "order-9")

	require.Len(t, f.notifier.Admins, 1)
	assert.Equal(t, []string{"ops@shop.tld"}, f.notifier.Admins[0].Recipients)
}

func TestEngine_UnitsWithoutDestinationAreSkipped(t *testing.T) {
	f := newEngineFixture(testutil.HostedAPIConfig())
	u := testutil.NewTestUnit("order-1", "1", 1)
	u.DestinationAddress = ""
	f.units.AddUnit(u)

	report := f.engine(app.EngineConfig{}).Disburse(context.Background(), "order-1")

	assert.Empty(t, report.Units)
	assert.Equal(t, 0, f.backend.SendCount())
	assert.Empty(t, f.notifier.Notes)
}

func TestEngine_MissingCredentials_AbortsBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	cfg := testutil.NodeRPCConfig(srv.URL)
	cfg.RPCPass = ""
	units := testutil.NewMockUnitRepository()
	u := testutil.NewTestUnit("order-1", "1", 1)
	units.AddUnit(u)
	notifier := testutil.NewMockNotifier()

	engine := app.NewEngine(&testutil.MockSettingsLoader{Config: cfg}, units, notifier,
		backends.NewFactory(backends.FactoryConfig{}, nil), nil, zerolog.Nop(), app.EngineConfig{})

	report := engine.Disburse(context.Background(), "order-1")

	assert.True(t, report.Aborted)
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, disbursement.StatusUnset, units.Status(u.ID))
	require.Len(t, notifier.Admins, 1)
	assert.Contains(t, notifier.Admins[0].Message, "rpc_pass")
	require.Len(t, notifier.Notes, 1)
	assert.Equal(t, notifier.Admins[0].Message, notifier.Notes[0])
}

func TestEngine_NodeRPC_200WithoutResult_MarksUnitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"disbursements"}`))
	}))
	defer srv.Close()

	units := testutil.NewMockUnitRepository()
	u := testutil.NewTestUnit("order-1", "1", 1)
	units.AddUnit(u)
	notifier := testutil.NewMockNotifier()

	engine := app.NewEngine(&testutil.MockSettingsLoader{Config: testutil.NodeRPCConfig(srv.URL)}, units, notifier,
		backends.NewFactory(backends.FactoryConfig{}, nil), nil, zerolog.Nop(), app.EngineConfig{})

	report := engine.Disburse(context.Background(), "order-1")

	assert.Equal(t, disbursement.StatusError, units.Status(u.ID))
	assert.Equal(t, 1, report.Count(disbursement.OutcomeFailed))
	require.Len(t, notifier.Admins, 1)
	assert.Contains(t, notifier.Admins[0].Message, "ERROR sending via node RPC")
}

func TestEngine_CancelledContext_LeavesUnitsForNextTrigger(t *testing.T) {
	f := newEngineFixture(testutil.HostedAPIConfig())
	u := testutil.NewTestUnit("order-1", "1", 1)
	f.units.AddUnit(u)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := f.engine(app.EngineConfig{}).Disburse(ctx, "order-1")

	assert.Equal(t, 0, f.backend.SendCount())
	assert.Equal(t, disbursement.StatusUnset, f.units.Status(u.ID))
	assert.Equal(t, 1, report.Count(disbursement.OutcomeNotReached))
}

// cancelAwareUnits fails status writes on a done context, like the Postgres store.
type cancelAwareUnits struct {
	*testutil.MockUnitRepository
}

func (u cancelAwareUnits) SetStatus(ctx context.Context, id uuid.UUID, status disbursement.SendStatus, detail string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return u.MockUnitRepository.SetStatus(ctx, id, status, detail)
}

func TestEngine_CancelledDuringSend_RecordsOutcome(t *testing.T) {
	tests := []struct {
		name           string
		receipt        *disbursement.TransferReceipt
		sendErr        error
		expectedStatus disbursement.SendStatus
		expectedNote   string
	}{
		{"confirmed send", &disbursement.TransferReceipt{TxID: "tx-late"}, nil, disbursement.StatusSuccess, "TXID: tx-late"},
		{"send aborted by cancellation", nil, context.Canceled, disbursement.StatusError, "context canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(testutil.HostedAPIConfig())
			units := cancelAwareUnits{f.units}
			u := testutil.NewTestUnit("order-1", "1", 1)
			f.units.AddUnit(u)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			f.backend.SendFunc = func(_ context.Context, _ disbursement.TransferRequest) (*disbursement.TransferReceipt, error) {
				cancel()
				return tt.receipt, tt.sendErr
			}
			engine := app.NewEngine(f.settings, units, f.notifier, f.factory, nil, zerolog.Nop(), app.EngineConfig{})

			engine.Disburse(ctx, "order-1")
			assert.Equal(t, tt.expectedStatus, f.units.Status(u.ID))
			require.NotEmpty(t, f.notifier.Notes)
			assert.Contains(t, f.notifier.Notes[len(f.notifier.Notes)-1], tt.expectedNote)

			again := engine.Disburse(context.Background(), "order-1")
			assert.Equal(t, 1, f.backend.SendCount())
			assert.Equal(t, 0, again.Count(disbursement.OutcomeSent))
		})
	}
}

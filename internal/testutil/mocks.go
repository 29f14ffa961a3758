package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/cassiomorais/disbursements/internal/domain/outbox"
	"github.com/cassiomorais/disbursements/internal/infrastructure/backends"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Unit Repository Mock ---

// MockUnitRepository is an in-memory disbursement.UnitRepository. SetStatus keeps the
// conditional update semantics of the real store.
type MockUnitRepository struct {
	mu    sync.Mutex
	units map[uuid.UUID]*disbursement.PayableUnit
	order []uuid.UUID

	CreateFunc      func(ctx context.Context, unit *disbursement.PayableUnit) error
	GetByIDFunc     func(ctx context.Context, id uuid.UUID) (*disbursement.PayableUnit, error)
	ListByOrderFunc func(ctx context.Context, orderID string) ([]*disbursement.PayableUnit, error)
	SetStatusFunc   func(ctx context.Context, id uuid.UUID, status disbursement.SendStatus, detail string) error
}

func NewMockUnitRepository() *MockUnitRepository {
	return &MockUnitRepository{units: make(map[uuid.UUID]*disbursement.PayableUnit)}
}

// AddUnit pre-populates the mock with a unit.
func (m *MockUnitRepository) AddUnit(u *disbursement.PayableUnit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.units[u.ID]; !ok {
		m.order = append(m.order, u.ID)
	}
	m.units[u.ID] = u
}

func (m *MockUnitRepository) Create(ctx context.Context, unit *disbursement.PayableUnit) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, unit)
	}
	m.AddUnit(unit)
	return nil
}

func (m *MockUnitRepository) GetByID(ctx context.Context, id uuid.UUID) (*disbursement.PayableUnit, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok {
		return nil, domainErrors.ErrUnitNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUnitRepository) ListByOrder(ctx context.Context, orderID string) ([]*disbursement.PayableUnit, error) {
	if m.ListByOrderFunc != nil {
		return m.ListByOrderFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*disbursement.PayableUnit
	for _, id := range m.order {
		if u := m.units[id]; u.OrderID == orderID {
			cp := *u
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MockUnitRepository) SetStatus(ctx context.Context, id uuid.UUID, status disbursement.SendStatus, detail string) error {
	if m.SetStatusFunc != nil {
		return m.SetStatusFunc(ctx, id, status, detail)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok {
		return domainErrors.ErrUnitNotFound
	}
	switch status {
	case disbursement.StatusSuccess:
		return u.MarkSent(detail)
	case disbursement.StatusError:
		return u.MarkFailed(detail)
	default:
		return domainErrors.ErrInvalidStateTransition
	}
}

// Status returns the stored status of a unit (test helper, no context needed).
func (m *MockUnitRepository) Status(id uuid.UUID) disbursement.SendStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.units[id].SendStatus
}

// --- Note Repository Mock ---

// MockNoteRepository is an in-memory disbursement.NoteRepository.
type MockNoteRepository struct {
	mu    sync.Mutex
	notes []*disbursement.OrderNote

	AddNoteFunc     func(ctx context.Context, note *disbursement.OrderNote) error
	ListByOrderFunc func(ctx context.Context, orderID string) ([]*disbursement.OrderNote, error)
}

func NewMockNoteRepository() *MockNoteRepository {
	return &MockNoteRepository{}
}

func (m *MockNoteRepository) AddNote(ctx context.Context, note *disbursement.OrderNote) error {
	if m.AddNoteFunc != nil {
		return m.AddNoteFunc(ctx, note)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, note)
	return nil
}

func (m *MockNoteRepository) ListByOrder(ctx context.Context, orderID string) ([]*disbursement.OrderNote, error) {
	if m.ListByOrderFunc != nil {
		return m.ListByOrderFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*disbursement.OrderNote
	for _, n := range m.notes {
		if n.OrderID == orderID {
			result = append(result, n)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// --- Notifier Mock ---

// AdminNotification is one captured admin alert.
type AdminNotification struct {
	OrderID    string
	Recipients []string
	Message    string
}

// MockNotifier records annotations and admin notifications.
type MockNotifier struct {
	mu     sync.Mutex
	Notes  []string
	Admins []AdminNotification

	AnnotateFunc    func(ctx context.Context, orderID, message string) error
	NotifyAdminFunc func(ctx context.Context, orderID string, recipients []string, message string) error
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Annotate(ctx context.Context, orderID, message string) error {
	if m.AnnotateFunc != nil {
		return m.AnnotateFunc(ctx, orderID, message)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notes = append(m.Notes, message)
	return nil
}

func (m *MockNotifier) NotifyAdmin(ctx context.Context, orderID string, recipients []string, message string) error {
	if m.NotifyAdminFunc != nil {
		return m.NotifyAdminFunc(ctx, orderID, recipients, message)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Admins = append(m.Admins, AdminNotification{OrderID: orderID, Recipients: recipients, Message: message})
	return nil
}

// CountNotes returns how many annotations equal message.
func (m *MockNotifier) CountNotes(message string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, note := range m.Notes {
		if note == message {
			n++
		}
	}
	return n
}

// --- Settings Loader Mock ---

// MockSettingsLoader returns a fixed configuration.
type MockSettingsLoader struct {
	Config   disbursement.BackendConfig
	LoadFunc func(ctx context.Context) (disbursement.BackendConfig, error)
	calls    int
}

func (m *MockSettingsLoader) Load(ctx context.Context) (disbursement.BackendConfig, error) {
	m.calls++
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return m.Config, nil
}

// Calls returns how many times Load was called.
func (m *MockSettingsLoader) Calls() int { return m.calls }

// --- Backend Mock ---

// MockBackend is a backends.Backend with overridable behaviour. It also implements
// AddressChecker and BalanceReader.
type MockBackend struct {
	mu    sync.Mutex
	Sent  []disbursement.TransferRequest
	NameV string

	SendFunc            func(ctx context.Context, req disbursement.TransferRequest) (*disbursement.TransferReceipt, error)
	ValidateAddressFunc func(ctx context.Context, address string) (bool, error)
	BalanceFunc         func(ctx context.Context, assetID string) (decimal.Decimal, error)
}

func (m *MockBackend) Name() string {
	if m.NameV == "" {
		return "mock"
	}
	return m.NameV
}

func (m *MockBackend) Send(ctx context.Context, req disbursement.TransferRequest) (*disbursement.TransferReceipt, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, req)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, req)
	}
	return &disbursement.TransferReceipt{TxID: "tx-" + uuid.New().String()[:8]}, nil
}

func (m *MockBackend) ValidateAddress(ctx context.Context, address string) (bool, error) {
	if m.ValidateAddressFunc != nil {
		return m.ValidateAddressFunc(ctx, address)
	}
	return true, nil
}

func (m *MockBackend) Balance(ctx context.Context, assetID string) (decimal.Decimal, error) {
	if m.BalanceFunc != nil {
		return m.BalanceFunc(ctx, assetID)
	}
	return decimal.Zero, nil
}

// SendCount returns how many sends reached the backend.
func (m *MockBackend) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// --- Backend Factory Mock ---

// MockBackendFactory hands out a single backend for every valid configuration.
type MockBackendFactory struct {
	Backend backends.Backend

	BuildFunc        func(cfg disbursement.BackendConfig) (backends.Backend, error)
	ValidatorForFunc func(cfg disbursement.BackendConfig) (backends.AddressChecker, bool)
	builds           int
}

func (m *MockBackendFactory) Build(cfg disbursement.BackendConfig) (backends.Backend, error) {
	m.builds++
	if m.BuildFunc != nil {
		return m.BuildFunc(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return m.Backend, nil
}

func (m *MockBackendFactory) ValidatorFor(cfg disbursement.BackendConfig) (backends.AddressChecker, bool) {
	if m.ValidatorForFunc != nil {
		return m.ValidatorForFunc(cfg)
	}
	if !cfg.HasAuthoritativeValidation() || cfg.Validate() != nil {
		return nil, false
	}
	return backends.AsAddressChecker(m.Backend)
}

// Builds returns how many times Build was called.
func (m *MockBackendFactory) Builds() int { return m.builds }

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is a mock implementation of outbox.Repository.
type MockOutboxRepository struct {
	mu      sync.Mutex
	Entries []*outbox.Entry

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID, reason string) error
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, entry)
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*outbox.Entry
	for _, e := range m.Entries {
		if e.Status == outbox.StatusPending && len(pending) < limit {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.ID == id && !e.MarkPublished(time.Now()) {
			return fmt.Errorf("outbox entry %s is not pending", id)
		}
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.ID == id {
			e.RecordFailure(reason)
		}
	}
	return nil
}

// CountPending counts entries still waiting for the relay.
func (m *MockOutboxRepository) CountPending(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.Entries {
		if e.Status == outbox.StatusPending {
			n++
		}
	}
	return n, nil
}

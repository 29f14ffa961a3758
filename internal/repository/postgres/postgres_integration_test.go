//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/cassiomorais/disbursements/internal/domain/outbox"
	"github.com/cassiomorais/disbursements/internal/infrastructure/postgres/migrations"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("disbursements"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	_, _ = m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestIntegration_UnitRepository(t *testing.T) {
	pool := setupDatabase(t)
	repo := NewUnitRepository(pool)
	ctx := context.Background()

	u1, err := disbursement.NewPayableUnit("order-1", "item-1", "SKU-1", "lq1qqdest", "asset-a", 3)
	require.NoError(t, err)
	u2, err := disbursement.NewPayableUnit("order-1", "item-2", "SKU-2", "lq1qqdest", "asset-a", 1)
	require.NoError(t, err)
	u2.CreatedAt = u1.CreatedAt.Add(time.Millisecond)

	require.NoError(t, repo.Create(ctx, u1))
	require.NoError(t, repo.Create(ctx, u2))

	dup, _ := disbursement.NewPayableUnit("order-1", "item-1", "SKU-1", "lq1qqdest", "asset-a", 3)
	assert.ErrorIs(t, repo.Create(ctx, dup), domainErrors.ErrDuplicateUnit)

	units, err := repo.ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "item-1", units[0].LineItemID)
	assert.Equal(t, disbursement.StatusUnset, units[0].SendStatus)

	require.NoError(t, repo.SetStatus(ctx, u1.ID, disbursement.StatusSuccess, "txid-1"))
	got, err := repo.GetByID(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, disbursement.StatusSuccess, got.SendStatus)
	require.NotNil(t, got.TxID)
	assert.Equal(t, "txid-1", *got.TxID)
	assert.NotNil(t, got.SentAt)

	// Terminal is final at the storage level.
	assert.ErrorIs(t, repo.SetStatus(ctx, u1.ID, disbursement.StatusError, "late"), domainErrors.ErrAlreadyTerminal)
	assert.ErrorIs(t, repo.SetStatus(ctx, u1.ID, disbursement.StatusSuccess, "again"), domainErrors.ErrAlreadyTerminal)

	require.NoError(t, repo.SetStatus(ctx, u2.ID, disbursement.StatusError, "RPC error: (-5) bad address"))
	got, err = repo.GetByID(ctx, u2.ID)
	require.NoError(t, err)
	assert.Equal(t, disbursement.StatusError, got.SendStatus)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "RPC error: (-5) bad address", *got.LastError)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrUnitNotFound)
	assert.ErrorIs(t, repo.SetStatus(ctx, uuid.New(), disbursement.StatusError, "x"), domainErrors.ErrUnitNotFound)
}

func TestIntegration_UnitRepository_ConcurrentSetStatus(t *testing.T) {
	pool := setupDatabase(t)
	repo := NewUnitRepository(pool)
	ctx := context.Background()

	u, _ := disbursement.NewPayableUnit("order-2", "item-1", "", "lq1qqdest", "asset-a", 1)
	require.NoError(t, repo.Create(ctx, u))

	const writers = 8
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() { results <- repo.SetStatus(ctx, u.ID, disbursement.StatusSuccess, "tx") }()
	}

	wins := 0
	for i := 0; i < writers; i++ {
		err := <-results
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domainErrors.ErrAlreadyTerminal)
	}
	assert.Equal(t, 1, wins)
}

func TestIntegration_NotesAndSettings(t *testing.T) {
	pool := setupDatabase(t)
	ctx := context.Background()

	notes := NewNoteRepository(pool)
	require.NoError(t, notes.AddNote(ctx, disbursement.NewOrderNote("order-3", "first")))
	require.NoError(t, notes.AddNote(ctx, disbursement.NewOrderNote("order-3", "second")))
	list, err := notes.ListByOrder(ctx, "order-3")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Message)

	settings := NewSettingsRepository(pool)
	cfg, err := settings.Load(ctx)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled(), "seeded row is disabled")

	require.NoError(t, settings.Save(ctx, &StoredSettings{
		Mode:        disbursement.ModeNodeRPC,
		RPCHost:     "https://node:7041",
		RPCUser:     "u",
		RPCPass:     "p",
		AdminEmails: " a@shop.tld , b@shop.tld ",
	}))
	cfg, err = settings.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, disbursement.ModeNodeRPC, cfg.Mode)
	assert.Equal(t, []string{"a@shop.tld", "b@shop.tld"}, cfg.AdminEmails)
	assert.NoError(t, cfg.Validate())
}

func TestIntegration_OutboxInTransaction(t *testing.T) {
	pool := setupDatabase(t)
	ctx := context.Background()
	tx := NewTxManager(pool)
	repo := NewOutboxRepository(pool)

	errRollback := errors.New("rollback")
	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, repo.Insert(ctx, outbox.NewAdminNotification("order-4", []string{"a@b.tld"}, "s", "dropped")))
		return errRollback
	})
	assert.ErrorIs(t, err, errRollback)

	require.NoError(t, tx.WithTransaction(ctx, func(ctx context.Context) error {
		return repo.Insert(ctx, outbox.NewAdminNotification("order-4", []string{"a@b.tld"}, "s", "kept"))
	}))

	n, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var pending []*outbox.Entry
	require.NoError(t, tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		pending, err = repo.GetPending(ctx, 10)
		return err
	}))
	require.Len(t, pending, 1)
	assert.Equal(t, "order-4", pending[0].AggregateID)
	assert.Equal(t, "kept", pending[0].Payload["message"])

	require.NoError(t, repo.MarkPublished(ctx, pending[0].ID))
	n, err = repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Error(t, repo.MarkPublished(ctx, pending[0].ID), "already published")

	_, err = repo.GetPending(ctx, 10)
	assert.Error(t, err, "claiming entries needs a transaction")
}

func TestIntegration_OutboxMarkFailed(t *testing.T) {
	pool := setupDatabase(t)
	ctx := context.Background()
	tx := NewTxManager(pool)
	repo := NewOutboxRepository(pool)

	entry := outbox.NewAdminNotification("order-5", []string{"a@b.tld"}, "s", "m")
	entry.MaxRetries = 2
	require.NoError(t, repo.Insert(ctx, entry))

	require.NoError(t, repo.MarkFailed(ctx, entry.ID, "stream unavailable"))
	var pending []*outbox.Entry
	require.NoError(t, tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		pending, err = repo.GetPending(ctx, 10)
		return err
	}))
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	require.NotNil(t, pending[0].LastError)
	assert.Equal(t, "stream unavailable", *pending[0].LastError)

	require.NoError(t, repo.MarkFailed(ctx, entry.ID, "stream unavailable"))
	n, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "entry is parked after its last retry")
}

func TestIntegration_TxManagerRollsBackOnPanic(t *testing.T) {
	pool := setupDatabase(t)
	ctx := context.Background()
	tx := NewTxManager(pool)
	repo := NewOutboxRepository(pool)

	assert.Panics(t, func() {
		_ = tx.WithTransaction(ctx, func(ctx context.Context) error {
			require.True(t, InTransaction(ctx))
			require.NoError(t, repo.Insert(ctx, outbox.NewAdminNotification("order-6", nil, "s", "m")))
			panic("boom")
		})
	})

	n, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIntegration_IdempotencyRepository(t *testing.T) {
	pool := setupDatabase(t)
	ctx := context.Background()
	repo := NewIdempotencyRepository(pool)

	got, err := repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now()
	require.NoError(t, repo.Set(ctx, &IdempotencyEntry{Key: "k1", ResponseBody: `{"a":1}`, ResponseStatus: 202, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, repo.Set(ctx, &IdempotencyEntry{Key: "k1", ResponseBody: `{"a":2}`, ResponseStatus: 500, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))

	got, err = repo.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 202, got.ResponseStatus, "first response wins while the key is live")

	require.NoError(t, repo.Set(ctx, &IdempotencyEntry{Key: "old", ResponseBody: "{}", ResponseStatus: 200, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}))
	removed, err := repo.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

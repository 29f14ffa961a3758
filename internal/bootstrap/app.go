package bootstrap

import (
	"context"
	"fmt"
	"os"

	appDisbursement "github.com/cassiomorais/disbursements/internal/application/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/cassiomorais/disbursements/internal/infrastructure/backends"
	"github.com/cassiomorais/disbursements/internal/infrastructure/config"
	"github.com/cassiomorais/disbursements/internal/infrastructure/notify"
	"github.com/cassiomorais/disbursements/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/disbursements/internal/infrastructure/redis"
	"github.com/cassiomorais/disbursements/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogOptions{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Output: os.Stdout,
	}).With().Str("service", serviceName).Logger()
	logger.Info().Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	var metrics *observability.Metrics
	if cfg.Observability.EnableMetrics {
		metrics = observability.NewMetrics(metricsNamespace, nil)
		logger.Info().Msg("Metrics initialized")
	}

	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	return &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Redis:   redisClient,
		Metrics: metrics,
	}, nil
}

func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}

// Services is the disbursement object graph shared by the API and the worker.
type Services struct {
	Units     *postgres.UnitRepository
	Notes     *postgres.NoteRepository
	Outbox    *postgres.OutboxRepository
	TxManager *postgres.TxManager
	Settings  appDisbursement.SettingsLoader
	// SettingsStore is nil when settings come from the config file.
	SettingsStore *postgres.SettingsRepository
	Backends      *backends.Factory
	Notifier      *notify.Notifier
	Producer      *infraRedis.StreamProducer
	Engine        *appDisbursement.Engine
	Addresses     *appDisbursement.AddressValidator
}

// NewServices wires repositories, backends and the engine from the loaded config.
func (a *App) NewServices() (*Services, error) {
	s := &Services{
		Units:     postgres.NewUnitRepository(a.Pool),
		Notes:     postgres.NewNoteRepository(a.Pool),
		Outbox:    postgres.NewOutboxRepository(a.Pool),
		TxManager: postgres.NewTxManager(a.Pool),
		Producer:  infraRedis.NewStreamProducer(a.Redis),
	}

	dcfg := a.Config.Disbursement
	switch dcfg.SettingsSource {
	case config.SettingsSourceDatabase:
		s.SettingsStore = postgres.NewSettingsRepository(a.Pool)
		s.Settings = s.SettingsStore
	default:
		static, err := config.NewStaticSettings()
		if err != nil {
			return nil, fmt.Errorf("load static settings: %w", err)
		}
		s.Settings = static
	}
	a.Logger.Info().Str("settings_source", dcfg.SettingsSource).Msg("Disbursement settings source selected")

	s.Backends = backends.NewFactory(backends.FactoryConfig{
		HostedAPIEndpoint: dcfg.HostedAPIURL,
		FeeRate:           dcfg.FeeRate,
		RPCTimeout:        dcfg.RPCTimeout,
		HostedTimeout:     dcfg.HostedTimeout,
	}, a.onBreakerStateChange)

	if dcfg.MockBackend {
		s.Backends.Register(disbursement.ModeNodeRPC, backends.NewMockBackend(string(disbursement.ModeNodeRPC)))
		s.Backends.Register(disbursement.ModeHostedAPI, backends.NewMockBackend(string(disbursement.ModeHostedAPI)))
		a.Logger.Warn().Msg("Mock disbursement backends registered, no asset will leave the wallet")
	}

	s.Notifier = notify.NewNotifier(s.Notes, s.Outbox, a.Metrics, a.Logger)
	s.Engine = appDisbursement.NewEngine(
		s.Settings,
		s.Units,
		s.Notifier,
		s.Backends,
		a.Metrics,
		a.Logger.With().Str("component", "engine").Logger(),
		appDisbursement.EngineConfig{
			StopOnHandledUnit:   dcfg.StopOnHandledUnit,
			FallbackAdminEmails: dcfg.FallbackAdminEmails(),
		},
	)
	s.Addresses = appDisbursement.NewAddressValidator(s.Settings, s.Backends, s.Notifier, a.Metrics, a.Logger).
		WithFallbackAdmins(dcfg.FallbackAdminEmails())

	return s, nil
}

func (a *App) onBreakerStateChange(backend string, from, to gobreaker.State) {
	a.Logger.Warn().
		Str("backend", backend).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state changed")
	a.Metrics.SetBreakerState(backend, int(to), to.String())
}

package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cassiomorais/disbursements/internal/infrastructure/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const applicationName = "disbursements"

// NewPool opens the pool and pings it. The pool is closed again if the
// database does not answer.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return pool, nil
}

func poolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pc.MaxConns = int32(cfg.MaxConnections)
	pc.MinConns = int32(cfg.MinConnections)
	pc.MaxConnLifetime = cfg.ConnMaxLifetime
	pc.MaxConnIdleTime = 30 * time.Minute
	pc.HealthCheckPeriod = time.Minute

	params := pc.ConnConfig.RuntimeParams
	params["application_name"] = applicationName
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	return pc, nil
}

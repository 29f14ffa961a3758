package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StoredSettings is the raw settings row. AdminEmails keeps the text the
// operator typed; BackendConfig parses it.
type StoredSettings struct {
	Mode        disbursement.Mode
	APIKey      string
	RPCHost     string
	RPCUser     string
	RPCPass     string
	AdminEmails string
}

// SettingsRepository reads and writes the single disbursement_settings row.
// Every Load hits the database so a changed setting applies to the next run.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

func (r *SettingsRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Load returns the backend configuration. A missing row means disbursement is disabled.
func (r *SettingsRepository) Load(ctx context.Context) (disbursement.BackendConfig, error) {
	s, err := r.Get(ctx)
	if err != nil {
		return disbursement.BackendConfig{}, err
	}
	return s.BackendConfig(), nil
}

// Get returns the stored row as-is.
func (r *SettingsRepository) Get(ctx context.Context) (*StoredSettings, error) {
	s := &StoredSettings{}
	var mode string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT mode, api_key, rpc_host, rpc_user, rpc_pass, admin_emails
		 FROM disbursement_settings WHERE id = TRUE`,
	).Scan(&mode, &s.APIKey, &s.RPCHost, &s.RPCUser, &s.RPCPass, &s.AdminEmails)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &StoredSettings{}, nil
		}
		return nil, fmt.Errorf("load disbursement settings: %w", err)
	}
	s.Mode = disbursement.Mode(mode)
	return s, nil
}

// Save upserts the settings row.
func (r *SettingsRepository) Save(ctx context.Context, s *StoredSettings) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO disbursement_settings (id, mode, api_key, rpc_host, rpc_user, rpc_pass, admin_emails, updated_at)
		 VALUES (TRUE, $1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   mode = EXCLUDED.mode, api_key = EXCLUDED.api_key,
		   rpc_host = EXCLUDED.rpc_host, rpc_user = EXCLUDED.rpc_user, rpc_pass = EXCLUDED.rpc_pass,
		   admin_emails = EXCLUDED.admin_emails, updated_at = NOW()`,
		string(s.Mode), s.APIKey, strings.TrimSpace(s.RPCHost), s.RPCUser, s.RPCPass, s.AdminEmails,
	)
	if err != nil {
		return fmt.Errorf("save disbursement settings: %w", err)
	}
	return nil
}

// BackendConfig converts the row into the per-run configuration.
func (s *StoredSettings) BackendConfig() disbursement.BackendConfig {
	return disbursement.BackendConfig{
		Mode:        s.Mode,
		APIKey:      s.APIKey,
		RPCHost:     s.RPCHost,
		RPCUser:     s.RPCUser,
		RPCPass:     s.RPCPass,
		AdminEmails: disbursement.ParseAdminEmails(s.AdminEmails),
	}
}

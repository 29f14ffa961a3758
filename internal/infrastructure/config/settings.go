package config

import (
	"context"
	"fmt"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/spf13/viper"
)

// BackendConfig converts the configured backend settings to their domain form.
func (d DisbursementConfig) BackendConfig() disbursement.BackendConfig {
	return disbursement.BackendConfig{
		Mode:        disbursement.Mode(d.Mode),
		APIKey:      d.APIKey,
		RPCHost:     d.RPCHost,
		RPCUser:     d.RPCUser,
		RPCPass:     d.RPCPass,
		AdminEmails: disbursement.ParseAdminEmails(d.AdminEmails),
	}
}

// FallbackAdminEmails are alerted when the stored settings cannot be read or
// name no admin. ops_emails wins over admin_emails.
func (d DisbursementConfig) FallbackAdminEmails() []string {
	if emails := disbursement.ParseAdminEmails(d.OpsEmails); len(emails) > 0 {
		return emails
	}
	return disbursement.ParseAdminEmails(d.AdminEmails)
}

// StaticSettings loads backend settings from the config file and environment.
// Every Load re-reads both, so edits apply to the next disbursement run.
type StaticSettings struct {
	v *viper.Viper
}

func NewStaticSettings() (*StaticSettings, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	return &StaticSettings{v: v}, nil
}

func (s *StaticSettings) Load(ctx context.Context) (disbursement.BackendConfig, error) {
	if s.v.ConfigFileUsed() != "" {
		if err := s.v.ReadInConfig(); err != nil {
			return disbursement.BackendConfig{}, fmt.Errorf("reload config file: %w", err)
		}
	}

	// Unmarshal walks every key, which is what picks up nested environment overrides.
	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return disbursement.BackendConfig{}, fmt.Errorf("unmarshal disbursement settings: %w", err)
	}
	return cfg.Disbursement.BackendConfig(), nil
}

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "DISBURSEMENTS"

// Settings sources for the disbursement backend.
const (
	SettingsSourceDatabase = "database"
	SettingsSourceConfig   = "config"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Disbursement  DisbursementConfig  `mapstructure:"disbursement"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds the public address validation endpoint per client IP.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// AuthConfig verifies admin bearer tokens. Tokens are issued elsewhere; the
// service only checks the HS256 signature and the "admin" role claim.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	// StatementTimeout bounds every query on pooled connections. Zero disables it.
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// DisbursementConfig holds the backend settings and the engine tunables.
// With settings_source "database" only the tunables are read from here.
type DisbursementConfig struct {
	SettingsSource    string        `mapstructure:"settings_source"`
	Mode              string        `mapstructure:"mode"`
	APIKey            string        `mapstructure:"api_key"`
	RPCHost           string        `mapstructure:"rpc_host"`
	RPCUser           string        `mapstructure:"rpc_user"`
	RPCPass           string        `mapstructure:"rpc_pass"`
	AdminEmails       string        `mapstructure:"admin_emails"`
	OpsEmails         string        `mapstructure:"ops_emails"`
	HostedAPIURL      string        `mapstructure:"hosted_api_url"`
	FeeRate           int           `mapstructure:"fee_rate"`
	RPCTimeout        time.Duration `mapstructure:"rpc_timeout"`
	HostedTimeout     time.Duration `mapstructure:"hosted_timeout"`
	StopOnHandledUnit bool          `mapstructure:"stop_on_handled_unit"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	MockBackend       bool          `mapstructure:"mock_backend"`
}

type WorkerConfig struct {
	BatchSize          int64         `mapstructure:"batch_size"`
	BlockDuration      time.Duration `mapstructure:"block_duration"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	ConsumerGroup      string        `mapstructure:"consumer_group"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
}

type ObservabilityConfig struct {
	LogLevel string `mapstructure:"log_level"`
	// LogFormat is "json" or "console".
	LogFormat      string `mapstructure:"log_format"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

// Load reads defaults, then the optional config.yaml, then DISBURSEMENTS_*
// environment variables, and validates the result.
func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

var searchPaths = []string{".", "./config", "/etc/disbursements"}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// disbursement.mode is read from DISBURSEMENTS_DISBURSEMENT_MODE.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// Validate reports every problem at once so a bad deployment fails with the
// full list.
func (c *Config) Validate() error {
	errs := []error{
		c.Server.validate(),
		c.Database.validate(),
		c.Redis.validate(),
		c.Disbursement.validate(),
		c.Worker.validate(),
		c.Observability.validate(),
		c.Auth.validate(),
	}
	if isProduction() {
		errs = append(errs, c.validateProduction())
	}
	return errors.Join(errs...)
}

func isProduction() bool {
	switch os.Getenv("ENV") {
	case "production", "prod":
		return true
	}
	return false
}

func (c *Config) validateProduction() error {
	var errs []error
	if c.Database.Password == "" {
		errs = append(errs, errors.New("database.password required in production"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret required in production"))
	}
	if c.Disbursement.MockBackend {
		errs = append(errs, errors.New("disbursement.mock_backend not allowed in production"))
	}
	return errors.Join(errs...)
}

func (s ServerConfig) validate() error {
	var errs []error
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Port))
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func (d DatabaseConfig) validate() error {
	var errs []error
	if d.Host == "" {
		errs = append(errs, errors.New("database.host is required"))
	}
	if d.Port <= 0 {
		errs = append(errs, errors.New("database.port must be positive"))
	}
	if d.StatementTimeout < 0 {
		errs = append(errs, errors.New("database.statement_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

func (r RedisConfig) validate() error {
	if r.Port <= 0 {
		return errors.New("redis.port must be positive")
	}
	return nil
}

func (d DisbursementConfig) validate() error {
	var errs []error
	if d.LockTTL <= 0 {
		errs = append(errs, errors.New("disbursement.lock_ttl must be positive"))
	}
	// The lock must outlive the run it guards.
	if d.ProcessingTimeout >= d.LockTTL {
		errs = append(errs, errors.New("disbursement.processing_timeout must be shorter than disbursement.lock_ttl"))
	}
	switch d.SettingsSource {
	case SettingsSourceDatabase, SettingsSourceConfig:
	default:
		errs = append(errs, fmt.Errorf("disbursement.settings_source must be %q or %q, got %q",
			SettingsSourceDatabase, SettingsSourceConfig, d.SettingsSource))
	}
	if d.FeeRate < 0 {
		errs = append(errs, errors.New("disbursement.fee_rate must not be negative"))
	}
	return errors.Join(errs...)
}

func (w WorkerConfig) validate() error {
	if w.BatchSize <= 0 {
		return errors.New("worker.batch_size must be positive")
	}
	return nil
}

func (o ObservabilityConfig) validate() error {
	switch o.LogFormat {
	case "", "json", "console":
		return nil
	}
	return fmt.Errorf("observability.log_format must be json or console, got %q", o.LogFormat)
}

func (a AuthConfig) validate() error {
	if a.JWTSecret != "" && len(a.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 characters")
	}
	return nil
}

var defaults = map[string]any{
	"server.port":                   8080,
	"server.read_timeout":           "15s",
	"server.write_timeout":          "60s",
	"server.idle_timeout":           "120s",
	"server.shutdown_timeout":       "30s",
	"server.cors.allowed_origins":   []string{"*"},
	"server.cors.allow_credentials": false,
	"server.rate_limit.requests":    30,
	"server.rate_limit.window":      "1m",

	"database.host":              "localhost",
	"database.port":              5432,
	"database.user":              "disbursements",
	"database.password":          "",
	"database.database":          "disbursements",
	"database.max_connections":   25,
	"database.min_connections":   5,
	"database.conn_max_lifetime": "1h",
	"database.ssl_mode":          "disable",
	"database.statement_timeout": "30s",

	"redis.host":                "localhost",
	"redis.port":                6379,
	"redis.db":                  0,
	"redis.password":            "",
	"redis.connect_retries":     5,
	"redis.connect_retry_delay": "1s",

	"worker.batch_size":           10,
	"worker.block_duration":       "1s",
	"worker.outbox_poll_interval": "2s",
	"worker.consumer_group":       "disbursers",
	"worker.idempotency_ttl":      "24h",

	// Backend keys need a default even when empty, or AutomaticEnv never
	// sees their environment overrides during Unmarshal.
	"disbursement.settings_source":      SettingsSourceConfig,
	"disbursement.mode":                 "",
	"disbursement.api_key":              "",
	"disbursement.rpc_host":             "",
	"disbursement.rpc_user":             "",
	"disbursement.rpc_pass":             "",
	"disbursement.admin_emails":         "",
	"disbursement.ops_emails":           "",
	"disbursement.hosted_api_url":       "https://coinos.io/api/liquid/send",
	"disbursement.fee_rate":             100,
	"disbursement.rpc_timeout":          "20s",
	"disbursement.hosted_timeout":       "25s",
	"disbursement.stop_on_handled_unit": false,
	"disbursement.lock_ttl":             "2m",
	"disbursement.processing_timeout":   "90s",
	"disbursement.mock_backend":         false,

	"observability.log_level":       "info",
	"observability.log_format":      "json",
	"observability.jaeger_endpoint": "http://localhost:14268/api/traces",
	"observability.enable_metrics":  true,
	"observability.enable_tracing":  true,

	"auth.jwt_secret": "",
	"instance_id":     "disbursements-1",
}

// DatabaseDSN is the keyword/value form pgxpool.ParseConfig takes.
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL is the DSN in URL form, as golang-migrate expects it.
func (c *DatabaseConfig) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

func (c *RedisConfig) RedisAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

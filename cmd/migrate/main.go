package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cassiomorais/disbursements/internal/infrastructure/config"
	"github.com/cassiomorais/disbursements/internal/infrastructure/observability"
	"github.com/cassiomorais/disbursements/internal/infrastructure/postgres/migrations"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

type options struct {
	command string
	dbURL   string
	path    string
	steps   int
	force   int
}

func main() {
	var opts options
	flag.StringVar(&opts.command, "direction", "up", "up, down, version or force")
	flag.StringVar(&opts.dbURL, "db", "", "Database URL (defaults to DATABASE_URL, then the service config)")
	flag.StringVar(&opts.path, "path", "", "Migration directory (defaults to the migrations built into the binary)")
	flag.IntVar(&opts.steps, "steps", 0, "Apply N steps instead of all; negative rolls back")
	flag.IntVar(&opts.force, "version", -1, "Version to record with -direction=force")
	flag.Parse()

	logger := observability.NewLogger(observability.LogOptions{Level: "info", Format: "console", Output: os.Stderr})
	if err := run(opts, logger); err != nil {
		logger.Fatal().Err(err).Str("direction", opts.command).Msg("Migration failed")
	}
}

func run(opts options, logger zerolog.Logger) error {
	dbURL, err := resolveDatabaseURL(opts.dbURL)
	if err != nil {
		return err
	}

	m, err := newMigrate(opts.path, dbURL)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()
	m.Log = migrateLogger{logger}

	switch {
	case opts.steps != 0:
		err = m.Steps(opts.steps)
	case opts.command == "up":
		err = m.Up()
	case opts.command == "down":
		err = m.Down()
	case opts.command == "force":
		if opts.force < 0 {
			return errors.New("-direction=force needs -version")
		}
		err = m.Force(opts.force)
	case opts.command == "version":
	default:
		return fmt.Errorf("unknown direction %q", opts.command)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info().Msg("Schema already up to date")
		err = nil
	}
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info().Msg("No migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
	return nil
}

// resolveDatabaseURL prefers the flag, then DATABASE_URL, then the database
// section of the service config.
func resolveDatabaseURL(flagURL string) (string, error) {
	if flagURL != "" {
		return flagURL, nil
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Database.DatabaseURL(), nil
}

func newMigrate(path, dbURL string) (*migrate.Migrate, error) {
	if path != "" {
		return migrate.New("file://"+path, dbURL)
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", src, dbURL)
}

// migrateLogger adapts zerolog to migrate.Logger.
type migrateLogger struct {
	zerolog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.GetLevel() <= zerolog.DebugLevel
}

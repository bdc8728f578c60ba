package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

var runMigrationsFn = runMigrations

// MigrationConfig configures schema migrations.
type MigrationConfig struct {
	DatabaseName         string
	SchemaName           string
	AllowMultiStatements bool
	Logger               libLog.Logger
	// Source overrides the embedded migrations; its root holds the *.sql files.
	Source fs.FS
}

// Migrator applies the embedded schema to the primary database.
type Migrator struct {
	client *Client
	cfg    MigrationConfig
}

// NewMigrator validates cfg for client.
func NewMigrator(client *Client, cfg MigrationConfig) (*Migrator, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	if err := validateDBName(cfg.DatabaseName); err != nil {
		return nil, err
	}

	if cfg.SchemaName == "" {
		cfg.SchemaName = "public"
	}

	if nilcheck.Interface(cfg.Logger) {
		cfg.Logger = client.cfg.Logger
	}

	if cfg.Source == nil {
		sub, err := fs.Sub(embeddedMigrations, "migrations")
		if err != nil {
			return nil, fmt.Errorf("%w: embedded migrations: %v", ErrInvalidConfig, err)
		}

		cfg.Source = sub
	}

	return &Migrator{client: client, cfg: cfg}, nil
}

// Up applies every pending migration. No change is not an error.
func (m *Migrator) Up(ctx context.Context) error {
	if m == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	primary, err := m.client.Primary(ctx)
	if err != nil {
		return err
	}

	return runMigrationsFn(ctx, primary, m.cfg)
}

func runMigrations(ctx context.Context, primary *sql.DB, cfg MigrationConfig) error {
	logger := cfg.Logger

	source, err := iofs.New(cfg.Source, ".")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	driver, err := postgres.WithInstance(primary, &postgres.Config{
		MultiStatementEnabled: cfg.AllowMultiStatements,
		DatabaseName:          cfg.DatabaseName,
		SchemaName:            cfg.SchemaName,
	})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver instance: %w", err)
	}

	// The migrate instance is not closed: closing the driver would close primary.
	instance, err := migrate.NewWithInstance("iofs", source, cfg.DatabaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := instance.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Log(ctx, libLog.LevelInfo, "no new migrations found")
			return nil
		}

		if errors.Is(err, os.ErrNotExist) {
			logger.Log(ctx, libLog.LevelWarn, "no migration files found")
			return nil
		}

		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			return fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
		}

		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, _ := instance.Version()
	logger.Log(ctx, libLog.LevelInfo, "migrations applied", libLog.Any("version", version))

	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/syncore/coreserver/internal/logger"
	"github.com/syncore/coreserver/pkg/rpcdal/postgres/migrations"
)

// RunMigrations applies the embedded schema to cfg's database using
// golang-migrate, mirroring the teacher's
// pkg/store/metadata/postgres.RunMigrations: open a plain database/sql
// handle (golang-migrate doesn't speak pgxpool), build an iofs source
// over the embedded migrations directory, and run Up once. golang-migrate
// takes its own postgres advisory lock, so concurrent `synccore migrate`
// invocations against the same database serialize safely.
func RunMigrations(ctx context.Context, cfg Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("rpcdal/postgres: invalid config: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return fmt.Errorf("rpcdal/postgres: open connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("rpcdal/postgres: ping: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    cfg.Database,
	})
	if err != nil {
		return fmt.Errorf("rpcdal/postgres: postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("rpcdal/postgres: source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("rpcdal/postgres: migrate instance: %w", err)
	}

	logger.Info("running rpcdal postgres migrations")
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("rpcdal/postgres: migrate up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("rpcdal/postgres: migrate version: %w", err)
	}
	if err == nil {
		logger.Info("rpcdal postgres schema", "version", version, "dirty", dirty)
	}
	return nil
}

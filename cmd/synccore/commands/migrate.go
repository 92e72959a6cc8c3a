package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncore/coreserver/internal/logger"
	"github.com/syncore/coreserver/pkg/config"
	"github.com/syncore/coreserver/pkg/rpcdal/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run RpcDal database migrations",
	Long: `Apply the embedded PostgreSQL schema for the RpcDal metadata store.

This is required before starting the server against a fresh database, and
after upgrading synccore when schema changes have been made. It is a no-op
when database.type is not "postgres".

Examples:
  # Run migrations with default config
  synccore migrate

  # Run migrations with custom config
  synccore migrate --config /etc/synccore/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	if cfg.Database.Type != "postgres" {
		fmt.Printf("database.type is %q, nothing to migrate\n", cfg.Database.Type)
		return nil
	}

	logger.Info("running rpcdal migrations", "host", cfg.Database.Postgres.Host, "database", cfg.Database.Postgres.Database)
	if err := postgres.RunMigrations(context.Background(), cfg.Database.Postgres); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println("Migrations completed successfully")
	return nil
}

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/yourusername/members-portal/internal/config"
	"github.com/yourusername/members-portal/internal/users"
)

// NewMigrateCmd は migrate サブコマンドを作成します。
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations to PostgreSQL",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL is required")
	}

	cmd.Println("Running migrations...")
	migrator, err := users.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	version, dirty, err := migrator.Version()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "read version").Wrap(err)
	}

	cmd.Printf("Migrations completed (version %d, dirty %t)\n", version, dirty)
	return nil
}

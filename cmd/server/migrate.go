package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sakif/session-auth/internal/server"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending migrations to the configured user store (sqlite or postgres) and exit.`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cmd.Println("Running migrations...")
	_, closeStore, err := server.OpenUserStore(cmd.Context(), cfg.Storage, newLogger(cfg))
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("driver", cfg.Storage.Driver).Wrap(err)
	}
	defer closeStore()

	cmd.Println("Migrations completed successfully")
	return nil
}

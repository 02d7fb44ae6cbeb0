package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sakif/session-auth/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command. Running it without a subcommand
// starts the server.
func NewRootCmd() *cobra.Command {
	// .env must be loaded before RegisterFlags reads the environment.
	dotenvErr := config.LoadDotEnv()

	cmd := &cobra.Command{
		Use:   "session-auth",
		Short: "Username/password authentication with server-side sessions",
		Long: `session-auth serves a login, registration and home page backed by a
SQLite or PostgreSQL user store and cookie or Redis sessions.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if dotenvErr != nil {
				return oops.Code("CONFIG_INVALID").Wrap(dotenvErr)
			}
			return nil
		},
		RunE: runServe,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewUseraddCmd())

	return cmd
}

// loadConfig merges the config file with cmd's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sakif/session-auth/internal/config"
	"github.com/sakif/session-auth/internal/logging"
	"github.com/sakif/session-auth/internal/server"
)

const serviceName = "session-auth"

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. Storage is opened and migrated first; the
server then runs until SIGINT or SIGTERM and shuts down gracefully.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	srv, err := server.New(cmd.Context(), cfg, logger)
	if err != nil {
		logging.LogError(cmd.Context(), logger, "failed to create server", err)
		return oops.Code("SERVER_INIT_FAILED").Wrap(err)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logging.LogError(cmd.Context(), logger, "server error", err)
		return err
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	// Validate already rejected unknown levels.
	level, _ := logging.ParseLevel(cfg.Log.Level)
	return logging.Setup(serviceName, version, cfg.Log.Format, level, nil)
}

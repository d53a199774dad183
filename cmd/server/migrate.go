package main

import (
	"errors"

	"github.com/spf13/cobra"

	"vtu-service/internal/config"
	"vtu-service/internal/ledger/pgstore"
	"vtu-service/internal/utils"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			utils.SetupLogging(cfg.LogLevel, cfg.LogJSON)
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			return pgstore.Migrate(cmd.Context(), cfg.DatabaseURL)
		},
	}
}

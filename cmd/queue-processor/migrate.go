package main

import (
	"github.com/spf13/cobra"

	"github.com/szaretsky/queueprocessor/internal/queue/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(*cobra.Command, []string) error {
			cfg, appLogger, err := loadConfig()
			if err != nil {
				return err
			}
			defer appLogger.Close()

			return storage.Migrate(cfg.Database.Postgres().DSN(), appLogger.Logger)
		},
	}
}

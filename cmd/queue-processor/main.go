// Command queue-processor runs and operates the Postgres-backed queue processor.
//
// Subcommands:
//
//	serve      run the per-queue workers and the control server
//	migrate    apply pending schema migrations and exit
//	enqueue    store one event (directly, through AMQP or through the control API)
//	ctl        talk to a running instance (set, stats)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/szaretsky/queueprocessor/internal/config"
	"github.com/szaretsky/queueprocessor/shared/logger"
)

var configPath string

func main() {
	if err := run(); err != nil {
		logger.NewDefault().Error("queue-processor failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.NewDefault().Warn("Failed to load .env file", slog.String("error", err.Error()))
	}

	root := &cobra.Command{
		Use:           "queue-processor",
		Short:         "Durable multi-queue job processor on PostgreSQL",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default $"+config.PathEnv+" or "+config.DefaultPath+")")

	root.AddCommand(
		serveCmd(),
		migrateCmd(),
		enqueueCmd(),
		ctlCmd(),
	)

	return root.Execute()
}

// loadConfig reads and validates the configuration and builds the logger
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.Logger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger.Logger)

	return cfg, appLogger, nil
}

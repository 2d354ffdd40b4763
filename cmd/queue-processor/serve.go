package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/szaretsky/queueprocessor/internal/config"
	"github.com/szaretsky/queueprocessor/internal/control"
	"github.com/szaretsky/queueprocessor/internal/ingress"
	"github.com/szaretsky/queueprocessor/internal/queue/storage"
	"github.com/szaretsky/queueprocessor/internal/worker"
	"github.com/szaretsky/queueprocessor/shared/postgresql"
	"github.com/szaretsky/queueprocessor/shared/rabbitmq"
)

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the queue workers and the control server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before starting")
	return cmd
}

func runServe(parent context.Context, migrate bool) error {
	cfg, appLogger, err := loadConfig()
	if err != nil {
		return err
	}
	defer appLogger.Close()
	logger := appLogger.Logger

	logger.Info("Starting queue processor",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Int("queues", len(cfg.Queues)),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgConfig := cfg.Database.Postgres()
	if migrate {
		if err := storage.Migrate(pgConfig.DSN(), logger); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := storage.Options{DeleteProcessed: cfg.Processor.DeleteProcessed}
	processor, err := worker.NewProcessor(&worker.Config{
		Logger:       logger,
		State:        worker.NewState(cfg.QueueSettings()),
		Open:         engineOpener(pgConfig, logger, opts),
		Metrics:      worker.NewMetrics(registry),
		AcquireWait:  cfg.Processor.AcquireWait,
		EmptyWait:    cfg.Processor.EmptyWait,
		RetryBackoff: cfg.Processor.RetryBackoff,
	})
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return processor.Run(gctx)
	})

	if cfg.Control.Enabled {
		deps := &control.Dependencies{
			Logger:   logger,
			State:    processor.State(),
			Enqueuer: processor,
		}
		if store := openInspectionStore(ctx, pgConfig, logger, opts, registry); store != nil {
			defer store.Close()
			deps.Store = store
		}
		g.Go(func() error {
			runControl(gctx, &cfg.Control, registry, deps, logger)
			return nil
		})
	}

	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewClient(ctx, cfg.RabbitMQ.Client(), logger)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		consumer := ingress.NewConsumer(&ingress.Config{
			Logger:      logger,
			Source:      rabbitClient,
			Enqueuer:    processor,
			ConsumerTag: "queue-processor-" + uuid.NewString(),
		})
		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil {
				logger.Error("Ingress consumer stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	logger.Info("Queue processor started", slog.String("processor_id", processor.ID()))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("Queue processor shutdown complete")
	return nil
}

// engineOpener opens one dedicated store connection per pool slot
func engineOpener(pgConfig *postgresql.Config, logger *slog.Logger, opts storage.Options) worker.EngineOpener {
	return func(ctx context.Context) (worker.Engine, error) {
		engine, err := storage.Connect(ctx, pgConfig, logger, opts)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}
}

// openInspectionStore connects the pooled client behind the queue API and
// exports its pool statistics. The API degrades to 503 when the store is
// unreachable at startup.
func openInspectionStore(ctx context.Context, pgConfig *postgresql.Config, logger *slog.Logger, opts storage.Options, registry prometheus.Registerer) *storage.Engine {
	client, err := postgresql.NewClient(ctx, pgConfig, logger)
	if err != nil {
		logger.Error("Queue API running without database",
			slog.String("error", err.Error()),
		)
		return nil
	}
	registry.MustRegister(collectors.NewDBStatsCollector(client.GetDB().DB, "queue_api"))
	return storage.New(client, logger, opts)
}

// runControl serves the control plane; failures are logged and leave the
// workers running
func runControl(ctx context.Context, cfg *config.ControlConfig, registry *prometheus.Registry, deps *control.Dependencies, logger *slog.Logger) {
	srv := control.NewServer(control.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		Gatherer:          registry,
	}, deps)

	err := srv.Run(ctx)
	switch {
	case errors.Is(err, control.ErrBind):
		logger.Error("Control server disabled, running workers only",
			slog.String("error", err.Error()),
		)
	case err != nil:
		logger.Error("Control server stopped", slog.String("error", err.Error()))
	}
}

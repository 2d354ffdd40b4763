package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaretsky/queueprocessor/internal/control"
	"github.com/szaretsky/queueprocessor/internal/ingress"
	"github.com/szaretsky/queueprocessor/internal/queue/storage"
	"github.com/szaretsky/queueprocessor/shared/rabbitmq"
)

func enqueueCmd() *cobra.Command {
	var (
		viaAMQP     bool
		controlAddr string
	)

	cmd := &cobra.Command{
		Use:   "enqueue QUEUE_ID JSON",
		Short: "Store one event for a queue",
		Long: "Store one event for a queue. The event is written straight to the database\n" +
			"unless --amqp or --control is given.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueID, err := strconv.Atoi(args[0])
			if err != nil || queueID <= 0 {
				return fmt.Errorf("invalid queue id %q", args[0])
			}

			var data map[string]any
			if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
				return fmt.Errorf("event must be a JSON object: %w", err)
			}
			if data == nil {
				return errors.New("event must be a JSON object")
			}

			ctx := cmd.Context()

			if controlAddr != "" {
				id, err := control.NewClient(controlAddr, 10*time.Second).Enqueue(ctx, queueID, data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}

			cfg, appLogger, err := loadConfig()
			if err != nil {
				return err
			}
			defer appLogger.Close()
			logger := appLogger.Logger

			if viaAMQP {
				client, err := rabbitmq.NewClient(ctx, cfg.RabbitMQ.Client(), logger)
				if err != nil {
					return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
				}
				defer client.Close()

				if err := ingress.Publish(ctx, client, queueID, data); err != nil {
					return err
				}
				logger.Info("Event published", slog.Int("queue_id", queueID))
				return nil
			}

			engine, err := storage.Connect(ctx, cfg.Database.Postgres(), logger,
				storage.Options{DeleteProcessed: cfg.Processor.DeleteProcessed})
			if err != nil {
				return err
			}
			defer engine.Close()

			id, err := engine.Enqueue(ctx, queueID, data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&viaAMQP, "amqp", false, "publish through the configured RabbitMQ exchange")
	cmd.Flags().StringVar(&controlAddr, "control", "", "send through the control server at this address")
	cmd.MarkFlagsMutuallyExclusive("amqp", "control")
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaretsky/queueprocessor/internal/control"
	"github.com/szaretsky/queueprocessor/internal/worker"
)

const defaultControlAddr = "127.0.0.1:2345"

func ctlCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Talk to a running queue processor",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", defaultControlAddr, "control server address")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	client := func() *control.Client { return control.NewClient(addr, timeout) }

	cmd.AddCommand(ctlSetCmd(client), ctlStatsCmd(client))
	return cmd
}

func ctlSetCmd(client func() *control.Client) *cobra.Command {
	var workers, frame int

	cmd := &cobra.Command{
		Use:   "set QUEUE_ID",
		Short: "Change the workers or frame of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid queue id %q", args[0])
			}

			patch := worker.SettingsPatch{QueueID: queueID}
			if cmd.Flags().Changed("workers") {
				patch.Workers = &workers
			}
			if cmd.Flags().Changed("frame") {
				patch.Frame = &frame
			}
			if patch.Workers == nil && patch.Frame == nil {
				return errors.New("nothing to set: pass --workers or --frame")
			}

			if err := client().Set(cmd.Context(), []worker.SettingsPatch{patch}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent batches")
	cmd.Flags().IntVar(&frame, "frame", 0, "events claimed per batch")
	return cmd
}

func ctlStatsCmd(client func() *control.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show live per-queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := client().Stats(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tWORKERS\tSTATUS\tPROCESSED\tFAILED\tTHROUGHPUT")
			for _, s := range stats {
				fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%d\t%.1f/s\n",
					s.QueueID, s.Workers, s.Status, s.Processed, s.Failed, s.Throughput)
			}
			return w.Flush()
		},
	}
}

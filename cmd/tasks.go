package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/moonerfun/flywheel/internal/bootstrap"
	"github.com/moonerfun/flywheel/internal/flywheel"
)

func newTriggerCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "trigger <task>",
		Short:     "Run one scheduled task now and exit",
		Long:      "Run one task immediately. Valid tasks: " + strings.Join(flywheel.TaskNames, ", ") + ".",
		Args:      cobra.ExactArgs(1),
		ValidArgs: flywheel.TaskNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				sched, err := app.NewScheduler(true)
				if err != nil {
					return err
				}
				if startErr := sched.Start(ctx); startErr != nil {
					return fmt.Errorf("start scheduler: %w", startErr)
				}
				defer sched.Stop()

				if runErr := sched.TriggerTask(ctx, name); runErr != nil {
					return fmt.Errorf("task %s: %w", name, runErr)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "task %s completed\n", name)
				return nil
			})
		},
	}
}

func newDrainCommand() *cobra.Command {
	var recoverStale bool

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Process one batch of due retry queue items",
		Long: "Process one batch of due retry queue items. With --recover-stale, items left in " +
			"processing longer than retry.stale_processing_after are first charged one attempt and " +
			"released. Only use it when no serve process is running.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				var recovered int64
				if recoverStale {
					recovered = app.Engine.RecoverStale(ctx, app.Config.Retry.StaleProcessingAfter)
				}
				result := app.Engine.Drain(ctx)

				t := newTable(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"Stale Recovered", "Fallbacks Recovered", "Processed", "Succeeded", "Failed"})
				t.AppendRow(table.Row{recovered, result.FallbacksRecovered, result.Processed, result.Succeeded, result.Failed})
				t.Render()
				return ctx.Err()
			})
		},
	}

	cmd.Flags().BoolVar(&recoverStale, "recover-stale", false, "release items stuck in processing before draining")
	return cmd
}

func newCleanupCommand() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed and failed retry items older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if days <= 0 {
					days = app.Config.Retry.CleanupAfterDays
				}
				deleted := app.Engine.Cleanup(ctx, days)
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d retry items older than %d days\n", deleted, days)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "age threshold in days (default retry.cleanup_after_days)")
	return cmd
}

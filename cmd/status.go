package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/moonerfun/flywheel/internal/bootstrap"
	"github.com/moonerfun/flywheel/internal/config"
	"github.com/moonerfun/flywheel/internal/domain"
	"github.com/moonerfun/flywheel/internal/flywheel"
	"github.com/moonerfun/flywheel/internal/scheduler"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show retry queue counts and task schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				stats, err := app.Engine.Stats(ctx)
				if err != nil {
					return err
				}
				pendingFiles, err := app.Fallback.Count(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				renderQueueStats(out, stats, pendingFiles)
				_, _ = fmt.Fprintln(out)
				renderSchedules(out, app.Config.Scheduler)
				return nil
			})
		},
	}
}

func renderQueueStats(w io.Writer, stats *domain.RetryQueueStats, fallbackFiles int) {
	t := newTable(w)
	t.SetTitle("Retry Queue")
	t.AppendHeader(table.Row{"Pending", "Due", "Processing", "Completed", "Failed", "Fallback Files"})
	t.AppendRow(table.Row{stats.Pending, stats.Due, stats.Processing, stats.Completed, stats.Failed, fallbackFiles})
	t.Render()
}

func renderSchedules(w io.Writer, sc config.SchedulerConfig) {
	t := newTable(w)
	t.SetTitle("Schedules")
	t.AppendHeader(table.Row{"Task", "Cron", "State"})

	schedules := map[string]config.TaskSchedule{
		flywheel.TaskFeeCollection: sc.FeeCollection,
		flywheel.TaskBuyback:       sc.Buyback,
		flywheel.TaskMarketcap:     sc.Marketcap,
		flywheel.TaskDiscovery:     sc.Discovery,
		flywheel.TaskRetry:         sc.Retry,
	}
	for _, name := range flywheel.TaskNames {
		s := schedules[name]
		t.AppendRow(table.Row{name, s.Cron, scheduleState(s)})
	}
	t.Render()
}

func scheduleState(s config.TaskSchedule) string {
	switch {
	case s.Disabled:
		return "disabled"
	case scheduler.ValidateSchedule(s.Cron) != nil:
		return "invalid cron"
	default:
		return "enabled"
	}
}

// Package cmd implements the flywheel command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moonerfun/flywheel/internal/bootstrap"
	"github.com/moonerfun/flywheel/internal/logger"
)

// Build information, set with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// cfgFile is the --config flag shared by every command.
var cfgFile string

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "flywheel",
		Short: "Fee collection, buyback and burn scheduler",
		Long: `flywheel collects trading fees from platform pools, buys tokens back
with the proceeds, optionally burns them, and retries failed operations
from a durable queue.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $CONFIG_PATH or ./config.yml)")

	root.AddCommand(
		newServeCommand(),
		newTriggerCommand(),
		newStatusCommand(),
		newDrainCommand(),
		newCleanupCommand(),
		newMigrateCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// withApp loads configuration, wires the application and runs fn with it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx := cmd.Context()

	cfg, err := bootstrap.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	log, err := bootstrap.CreateLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	app, err := bootstrap.New(ctx, cfg, log.With(logger.String("command", cmd.Name())), bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			log.Error("failed to close connections", logger.Error(closeErr))
		}
	}()

	return fn(ctx, app)
}

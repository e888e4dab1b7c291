package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moonerfun/flywheel/internal/bootstrap"
	"github.com/moonerfun/flywheel/internal/database"
)

func newMigrateCommand() *cobra.Command {
	var (
		dir   string
		steps int
	)

	cmd := &cobra.Command{
		Use:       "migrate <up|down|version>",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			log, err := bootstrap.CreateLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := database.NewPostgresConnection(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("setup database: %w", err)
			}

			migrator, err := database.NewMigrator(db, dir, log)
			if err != nil {
				_ = db.Close()
				return err
			}
			defer func() { _ = migrator.Close() }()

			switch args[0] {
			case "up":
				return migrator.Up()
			case "down":
				return migrator.Down(steps)
			default:
				version, dirty, versionErr := migrator.Version()
				if versionErr != nil {
					return versionErr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&dir, "dir", database.DefaultMigrationsDir, "migrations directory")
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

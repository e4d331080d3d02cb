package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cory-johannsen/prism/internal/config"
	"github.com/cory-johannsen/prism/migrations"
)

var (
	migrateDirection string
	migrateSteps     int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		start := time.Now()
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		st, err := migrations.Run(cfg.Database.DSN(), migrations.Direction(migrateDirection), migrateSteps)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if st.NoChange {
			fmt.Fprintf(out, "no changes (version=%d dirty=%v) [%s]\n", st.Version, st.Dirty, time.Since(start))
		} else {
			fmt.Fprintf(out, "migrated %s to version=%d dirty=%v [%s]\n", migrateDirection, st.Version, st.Dirty, time.Since(start))
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDirection, "direction", "up", "migration direction: up or down")
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 0, "number of steps (0 = all)")
}

package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valeevte/PricePulse/internal/database"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Manage the schema of the items and price history tables. Use with 'up' or 'down'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if err := cfg.Database.Validate(); err != nil {
				return err
			}
			if err := database.MigrateUp(cfg.Database.MigrateDSN()); err != nil {
				log.WithError(err).Error("migrate up failed")
				return err
			}
			log.WithField("database", cfg.Database.Redacted()).Info("migrations applied")
			return nil
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations",
		Long: `Revert the given number of migrations.
WARNING: reverting the initial migration drops all items and their price history.

Example:
  pricepulse migrate down --steps 1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, err := cmd.Flags().GetInt("steps")
			if err != nil {
				return fmt.Errorf("failed to get steps flag: %w", err)
			}
			if steps <= 0 {
				return errors.New("--steps must be positive")
			}
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if err := cfg.Database.Validate(); err != nil {
				return err
			}
			if err := database.MigrateDown(cfg.Database.MigrateDSN(), steps); err != nil {
				log.WithError(err).Error("migrate down failed")
				return err
			}
			log.WithField("steps", steps).Info("migrations reverted")
			return nil
		},
	}
	down.Flags().IntP("steps", "n", 1, "Number of migrations to revert")

	cmd.AddCommand(up, down)
	return cmd
}

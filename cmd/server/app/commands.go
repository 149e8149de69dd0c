// Package app wires configuration, storage and reconciliation into the
// pricepulse command line.
package app

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/valeevte/PricePulse/internal/config"
	"github.com/valeevte/PricePulse/internal/logging"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pricepulse",
		Short:         "Tracks catalog item prices from daily scraper snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newMigrateCmd())
	return root
}

// setup loads the configuration and builds the logger every command uses.
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Error("failed to load configuration")
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format), nil
}

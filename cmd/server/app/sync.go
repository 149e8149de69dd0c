package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/valeevte/PricePulse/internal/database"
	"github.com/valeevte/PricePulse/internal/products"
	"github.com/valeevte/PricePulse/internal/reconcile"
	"github.com/valeevte/PricePulse/internal/snapshot"
)

// ErrRunFailed is returned when a one-off run ends fatally.
var ErrRunFailed = errors.New("reconciliation run failed")

func newSyncCmd() *cobra.Command {
	var (
		file   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass and print its summary",
		Long: `Reconcile today's snapshot (or --file) against the database and print the
run summary as JSON. With --dry-run the snapshot is applied to an empty
in-memory store and the database is not touched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			src := &snapshot.FileSource{
				Dir:      cfg.Sync.SnapshotDir,
				Pattern:  cfg.Sync.SnapshotPattern,
				Path:     file,
				Location: cfg.Sync.Location,
			}
			snap, err := src.Snapshot(ctx)
			if err != nil {
				log.WithError(err).WithField("path", src.ResolvePath()).Error("failed to load snapshot")
				return err
			}

			var store products.Store
			if dryRun {
				store = products.NewMemoryStore()
			} else {
				if err := cfg.Database.Validate(); err != nil {
					return err
				}
				pool, err := database.Connect(ctx, cfg.Database, log)
				if err != nil {
					return err
				}
				defer pool.Close()
				store = products.NewRepository(pool)
			}

			coord := reconcile.NewCoordinator(store, reconcile.Config{
				Workers:    cfg.Sync.Workers,
				RunTimeout: cfg.Sync.RunTimeout,
				RetryDelay: cfg.Sync.RetryDelay,
				Location:   cfg.Sync.Location,
			}, reconcile.WithLogger(log))
			summary := coord.Run(ctx, snap)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("encode summary: %w", err)
			}
			if summary.Status == reconcile.RunFatal {
				return fmt.Errorf("%w: %w", ErrRunFailed, summary.FatalError)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Snapshot file to reconcile instead of today's")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Reconcile into an in-memory store")
	return cmd
}

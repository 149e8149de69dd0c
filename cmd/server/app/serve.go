package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/valeevte/PricePulse/internal/config"
	"github.com/valeevte/PricePulse/internal/database"
	"github.com/valeevte/PricePulse/internal/metrics"
	"github.com/valeevte/PricePulse/internal/products"
	"github.com/valeevte/PricePulse/internal/reconcile"
	"github.com/valeevte/PricePulse/internal/scheduler"
	"github.com/valeevte/PricePulse/internal/snapshot"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reporting API and the daily sync scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log, autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", true, "Apply pending migrations before starting")
	return cmd
}

func serve(parent context.Context, cfg *config.Config, log *logrus.Logger, autoMigrate bool) error {
	// graceful shutdown coordination
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Database.Validate(); err != nil {
		return err
	}
	if autoMigrate {
		if err := database.MigrateUp(cfg.Database.MigrateDSN()); err != nil {
			log.WithError(err).Error("failed to apply migrations")
			return err
		}
	}

	pool, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	// close DB pool last (blocks until connections returned)
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	runMetrics, err := metrics.NewRunMetrics(reg)
	if err != nil {
		return err
	}

	store := products.NewRepository(pool)
	coord := reconcile.NewCoordinator(store, reconcile.Config{
		Workers:    cfg.Sync.Workers,
		RunTimeout: cfg.Sync.RunTimeout,
		RetryDelay: cfg.Sync.RetryDelay,
		Location:   cfg.Sync.Location,
	}, reconcile.WithLogger(log), reconcile.WithRecorder(runMetrics))

	src := &snapshot.FileSource{
		Dir:      cfg.Sync.SnapshotDir,
		Pattern:  cfg.Sync.SnapshotPattern,
		Location: cfg.Sync.Location,
	}
	sched := scheduler.New(src, coord, scheduler.Config{Interval: cfg.Sync.Interval}, log)

	// start scheduler
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		// scheduler runs until ctx is cancelled
		sched.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           newRouter(cfg.HTTP.GinMode, store, sched, reg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.HTTP.Port).Info("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err = <-serveErr:
		log.WithError(err).Error("server ListenAndServe failed")
		stop()
	}

	// stop accepting new requests, allow 15s to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Warn("server shutdown")
	}

	// wait scheduler to finish (it reacts to ctx)
	wg.Wait()

	log.Info("graceful shutdown complete")
	return err
}

func newRouter(mode string, store products.Store, sched *scheduler.Scheduler, gatherer prometheus.Gatherer, log logrus.FieldLogger) *gin.Engine {
	if mode == "" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(mode)
	}
	r := gin.Default()

	items := products.NewHandler(store, log)
	runs := scheduler.NewHandler(sched)

	api := r.Group("/api")
	items.Register(api)
	runs.Register(api)

	r.GET("/healthz", items.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return r
}

// Package scheduler runs reconciliation passes on a fixed interval and keeps
// the summary of the most recent one.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/valeevte/PricePulse/internal/products"
	"github.com/valeevte/PricePulse/internal/reconcile"
	"github.com/valeevte/PricePulse/internal/snapshot"
)

const defaultInterval = 24 * time.Hour

// Runner reconciles one snapshot. *reconcile.Coordinator satisfies it.
type Runner interface {
	Run(ctx context.Context, snap []products.RawObservation) reconcile.Summary
}

// Config конфигурация планировщика
type Config struct {
	Interval time.Duration
}

type Scheduler struct {
	source   snapshot.Source
	runner   Runner
	interval time.Duration
	log      logrus.FieldLogger

	mu   sync.RWMutex
	last *reconcile.Summary
}

func New(source snapshot.Source, runner Runner, cfg Config, log logrus.FieldLogger) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		source:   source,
		runner:   runner,
		interval: interval,
		log:      log.WithField("component", "scheduler"),
	}
}

// Run запускает scheduler и блокирует выполнение, пока ctx не отменён.
// Первый проход выполняется сразу.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval.String()).Info("scheduler started")

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping: context cancelled")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, snapshot.ErrNoSnapshot) {
			s.log.WithError(err).Info("no snapshot yet, skipping run")
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.log.WithError(err).Error("failed to load snapshot")
	}
}

// RunOnce loads the current snapshot and reconciles it. The error is non-nil
// only when the snapshot could not be loaded; run failures are in the summary.
func (s *Scheduler) RunOnce(ctx context.Context) (reconcile.Summary, error) {
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return reconcile.Summary{}, err
	}
	return s.Reconcile(ctx, snap), nil
}

// Reconcile runs the given snapshot and remembers its summary.
func (s *Scheduler) Reconcile(ctx context.Context, snap []products.RawObservation) reconcile.Summary {
	summary := s.runner.Run(ctx, snap)

	s.mu.Lock()
	s.last = &summary
	s.mu.Unlock()
	return summary
}

// Last returns the summary of the most recent run, if any.
func (s *Scheduler) Last() (reconcile.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return reconcile.Summary{}, false
	}
	return *s.last, true
}

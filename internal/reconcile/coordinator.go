package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/valeevte/PricePulse/internal/pricing"
	"github.com/valeevte/PricePulse/internal/products"
)

// missingID is what the scraper writes when an entry carries no product id.
const missingID = "N/A"

// Recorder receives every finished run summary, e.g. to export metrics.
type Recorder interface {
	RecordRun(s Summary)
}

// Config tunes a Coordinator.
type Config struct {
	// Workers bounds how many items are reconciled concurrently. Values below
	// one mean sequential processing.
	Workers int
	// RunTimeout, when positive, is the overall deadline after which no new
	// item is started.
	RunTimeout time.Duration
	// RetryDelay is the pause before retrying a constraint violation.
	RetryDelay time.Duration
	// Location decides which calendar date "today" is.
	Location *time.Location
}

// Coordinator drives one reconciliation pass over a snapshot.
type Coordinator struct {
	reconciler *Reconciler
	cfg        Config
	now        func() time.Time
	log        logrus.FieldLogger
	recorders  []Recorder
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for the observation date and the
// summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRecorder registers a summary consumer.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorders = append(c.recorders, r)
		}
	}
}

func NewCoordinator(store products.Store, cfg Config, opts ...Option) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	c := &Coordinator{
		cfg: cfg,
		now: time.Now,
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reconciler = NewReconciler(store, cfg.RetryDelay, c.log)
	return c
}

// Run reconciles the snapshot and returns its summary.
//
// Entries are normalized and de-duplicated in snapshot order; the first
// occurrence of an id wins. Store work is spread over at most cfg.Workers
// goroutines. Per-item failures are counted and never stop the run. When the
// store becomes unavailable no new items are started and the summary carries
// the error; work already committed stays committed. Once ctx is done or the
// run deadline passes, no new items are started either. Items already in
// flight when the deadline passes are allowed to finish.
func (c *Coordinator) Run(ctx context.Context, snapshot []products.RawObservation) Summary {
	// the deadline only gates starting items; in-flight units run on ctx
	startCtx := ctx
	if c.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, c.cfg.RunTimeout)
		defer cancel()
	}

	started := c.now()
	today := products.DateOf(started.In(c.cfg.Location))

	summary := Summary{
		Total:     len(snapshot),
		Outcomes:  make([]Outcome, 0, len(snapshot)),
		StartedAt: started,
	}
	log := c.log.WithField("items", len(snapshot))
	log.Info("reconciliation run started")

	var (
		mu       sync.Mutex
		outcomes = make([]*Outcome, len(snapshot))
	)
	record := func(i int, o Outcome) {
		o.Index = i
		mu.Lock()
		outcomes[i] = &o
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	seen := make(map[string]struct{}, len(snapshot))
	for i, raw := range snapshot {
		if gctx.Err() != nil || startCtx.Err() != nil {
			break
		}

		id := strings.TrimSpace(raw.ID)
		if id == "" || id == missingID {
			record(i, Outcome{ItemID: id, Status: StatusFailed, Err: fmt.Errorf("%w: missing item id", ErrInvalidObservation)})
			continue
		}
		if _, dup := seen[id]; dup {
			record(i, Outcome{ItemID: id, Status: StatusSkipped, Err: ErrDuplicateInSnapshot})
			continue
		}
		seen[id] = struct{}{}

		price, err := pricing.Normalize(raw.RawPrice)
		if err != nil {
			record(i, Outcome{ItemID: id, Status: StatusFailed, Err: err})
			continue
		}

		obs := Observation{
			ID:       id,
			Name:     strings.TrimSpace(raw.Name),
			ImageRef: strings.TrimSpace(raw.ImageRef),
			Price:    price,
			Date:     today,
		}
		g.Go(func() error {
			// Go may have blocked on the worker limit past the deadline
			if startCtx.Err() != nil {
				return nil
			}
			out, err := c.reconciler.Reconcile(gctx, obs)
			if err != nil {
				if errors.Is(err, products.ErrStoreUnavailable) {
					return err
				}
				// cancelled mid-item: the unit rolled back, leave it uncounted
				return nil
			}
			record(i, out)
			return nil
		})
	}

	fatal := g.Wait()

	for _, o := range outcomes {
		if o != nil {
			summary.add(*o)
		}
	}
	summary.FatalError = fatal
	if fatal == nil {
		summary.Err = startCtx.Err()
	}
	summary.FinishedAt = c.now()
	summary.finish()

	c.logSummary(log, summary)
	for _, r := range c.recorders {
		r.RecordRun(summary)
	}
	return summary
}

func (c *Coordinator) logSummary(log logrus.FieldLogger, s Summary) {
	entry := log.WithFields(logrus.Fields{
		"status":    s.Status,
		"inserted":  s.Inserted,
		"unchanged": s.Unchanged,
		"skipped":   s.Skipped,
		"failed":    s.Failed,
		"remaining": s.Remaining,
		"duration":  s.Duration().String(),
	})
	for _, o := range s.Outcomes {
		if o.Status == StatusFailed {
			entry.WithField("item_id", o.ItemID).WithError(o.Err).Warn("item failed")
		}
	}
	switch s.Status {
	case RunFatal:
		entry.WithError(s.FatalError).Error("reconciliation run aborted: store unavailable")
	case RunPartial:
		entry.WithError(s.Err).Warn("reconciliation run stopped early")
	case RunSucceededWithErrors:
		entry.Warn("reconciliation run finished with errors")
	default:
		entry.Info("reconciliation run finished")
	}
}

// Package reconcile applies scraped snapshots to the persisted current-state
// and price history.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/valeevte/PricePulse/internal/products"
)

const defaultRetryDelay = 200 * time.Millisecond

// Observation is a normalized snapshot entry ready to be reconciled.
type Observation struct {
	ID       string
	Name     string
	ImageRef string
	Price    decimal.Decimal
	Date     time.Time
}

// Reconciler performs the per-item read-decide-write sequence.
type Reconciler struct {
	store      products.Store
	retryDelay time.Duration
	log        logrus.FieldLogger
}

func NewReconciler(store products.Store, retryDelay time.Duration, log logrus.FieldLogger) *Reconciler {
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{store: store, retryDelay: retryDelay, log: log}
}

// Reconcile applies one observation inside a single per-item unit.
//
// A history row is appended iff the item has no observation yet or the latest
// one carries a different price. A constraint violation is retried once.
// Per-item failures come back in the Outcome; the returned error is non-nil
// only when the store is unavailable or ctx is done, and then the outcome
// must not be counted.
func (r *Reconciler) Reconcile(ctx context.Context, obs Observation) (Outcome, error) {
	price := obs.Price
	attempt := 0

	apply := func() (Outcome, error) {
		attempt++
		out := Outcome{ItemID: obs.ID, Price: &price}
		err := r.store.WithItem(ctx, obs.ID, func(tx products.ItemTx) error {
			change, err := tx.UpsertItem(ctx, obs.ID, obs.Name, obs.ImageRef)
			if err != nil {
				return err
			}
			out.ItemChange = change

			latest, err := tx.FetchLatestObservation(ctx, obs.ID)
			if err != nil && !errors.Is(err, products.ErrNotFound) {
				return err
			}

			if latest != nil && latest.Price.Equal(price) {
				out.Status = StatusUnchanged
				return nil
			}
			if _, err := tx.AppendObservation(ctx, obs.ID, price, obs.Date); err != nil {
				return err
			}
			out.Status = StatusInserted
			return nil
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, products.ErrConstraintViolation):
			r.log.WithFields(logrus.Fields{
				"item_id": obs.ID,
				"attempt": attempt,
			}).WithError(err).Warn("constraint violation while reconciling item")
			return out, err
		default:
			return out, backoff.Permanent(err)
		}
	}

	out, err := backoff.Retry(ctx, apply,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.retryDelay)),
		backoff.WithMaxTries(2),
	)
	if err == nil {
		return out, nil
	}

	if errors.Is(err, products.ErrStoreUnavailable) {
		return out, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return out, err
	}

	out.Status = StatusFailed
	out.Err = fmt.Errorf("reconcile item %s: %w", obs.ID, err)
	return out, nil
}

// Package products owns the persisted current-state and price history
// relations and the HTTP handlers reading them.
package products

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an item or observation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable marks connectivity failures: the store cannot be
	// reached or a per-item unit cannot be opened.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConstraintViolation marks integrity constraint failures such as a
	// history row referencing an item that is not there.
	ErrConstraintViolation = errors.New("store constraint violation")
	// ErrInvalidPrice is returned for a price no history row may carry.
	// Retrying cannot fix it.
	ErrInvalidPrice = errors.New("invalid price")
)

// ItemTx is the view of the store inside one per-item atomic unit.
type ItemTx interface {
	FetchItem(ctx context.Context, id string) (*Item, error)
	UpsertItem(ctx context.Context, id, name, imageRef string) (UpsertResult, error)
	FetchLatestObservation(ctx context.Context, id string) (*PriceObservation, error)
	AppendObservation(ctx context.Context, id string, price decimal.Decimal, date time.Time) (*PriceObservation, error)
}

// Store is the gateway to persisted items and their history.
type Store interface {
	// WithItem runs fn in an atomic unit scoped to a single item. Concurrent
	// units for the same id are serialized. The unit commits when fn returns
	// nil and rolls back otherwise.
	WithItem(ctx context.Context, id string, fn func(tx ItemTx) error) error

	ListItems(ctx context.Context, params ListParams) ([]ItemView, int, error)
	GetItem(ctx context.Context, id string) (*ItemView, error)
	GetPriceHistory(ctx context.Context, id string) ([]PriceObservation, error)
	DeleteItem(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Clock returns the current instant. Stores stamp first-seen and last-updated
// with it.
type Clock func() time.Time

func defaultClock() time.Time {
	return time.Now().UTC()
}

type options struct {
	now Clock
}

// Option configures a Store implementation.
type Option func(*options)

// WithClock overrides the time source used for first-seen and last-updated.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.now = c
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: defaultClock}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

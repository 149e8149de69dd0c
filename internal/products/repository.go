package products

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	db  *pgxpool.Pool
	now Clock
}

var _ Store = (*Repository)(nil)

func NewRepository(db *pgxpool.Pool, opts ...Option) *Repository {
	o := buildOptions(opts)
	return &Repository{db: db, now: o.now}
}

// WithItem opens a read-committed transaction and takes a transaction-scoped
// advisory lock on the item id before calling fn. Two units for the same id
// therefore never interleave their read-latest and append steps.
func (r *Repository) WithItem(ctx context.Context, id string, fn func(tx ItemTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: begin transaction for item %s: %w", ErrStoreUnavailable, id, err)
	}
	defer func() {
		// rollback must still reach the server when ctx is already cancelled
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, id); err != nil {
		return classify(fmt.Errorf("lock item %s: %w", id, err))
	}

	if err := fn(&pgItemTx{tx: tx, now: r.now}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit item %s: %w", id, err))
	}
	return nil
}

const itemViewColumns = `
SELECT i.id, i.name, i.image_ref, i.first_seen_at, i.updated_at,
       lp.price::text, lp.observed_on
FROM items i
LEFT JOIN LATERAL (
    SELECT price, observed_on FROM price_observations po
    WHERE po.item_id = i.id
    ORDER BY po.observed_on DESC, po.id DESC
    LIMIT 1
) lp ON true
`

func (r *Repository) ListItems(ctx context.Context, params ListParams) ([]ItemView, int, error) {
	params = params.Normalize()

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM items`).Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("count items: %w", err))
	}

	rows, err := r.db.Query(ctx, itemViewColumns+`
ORDER BY i.first_seen_at DESC, i.id ASC
LIMIT $1 OFFSET $2`, params.PerPage, params.offset())
	if err != nil {
		return nil, 0, classify(fmt.Errorf("list items: %w", err))
	}
	defer rows.Close()

	res := make([]ItemView, 0, params.PerPage)
	for rows.Next() {
		v, err := scanItemView(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(fmt.Errorf("list items: %w", err))
	}
	return res, total, nil
}

func (r *Repository) GetItem(ctx context.Context, id string) (*ItemView, error) {
	row := r.db.QueryRow(ctx, itemViewColumns+`WHERE i.id = $1`, id)
	v, err := scanItemView(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (r *Repository) GetPriceHistory(ctx context.Context, id string) ([]PriceObservation, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, classify(fmt.Errorf("check item %s: %w", id, err))
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := r.db.Query(ctx, `
SELECT id, item_id, price::text, observed_on
FROM price_observations
WHERE item_id = $1
ORDER BY observed_on DESC, id DESC`, id)
	if err != nil {
		return nil, classify(fmt.Errorf("price history for %s: %w", id, err))
	}
	defer rows.Close()

	out := make([]PriceObservation, 0)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *obs)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("price history for %s: %w", id, err))
	}
	return out, nil
}

// DeleteItem removes the item; its history goes with it through ON DELETE CASCADE.
func (r *Repository) DeleteItem(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return classify(fmt.Errorf("delete item %s: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// pgItemTx implements ItemTx on an open transaction.
type pgItemTx struct {
	tx  pgx.Tx
	now Clock
}

func (t *pgItemTx) FetchItem(ctx context.Context, id string) (*Item, error) {
	var it Item
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, image_ref, first_seen_at, updated_at FROM items WHERE id = $1`, id).
		Scan(&it.ID, &it.Name, &it.ImageRef, &it.FirstSeenAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(fmt.Errorf("fetch item %s: %w", id, err))
	}
	return &it, nil
}

// UpsertItem relies on ON CONFLICT ... WHERE so that an unchanged row is not
// rewritten and keeps its updated_at. No returned row means nothing changed.
func (t *pgItemTx) UpsertItem(ctx context.Context, id, name, imageRef string) (UpsertResult, error) {
	var inserted bool
	err := t.tx.QueryRow(ctx, `
INSERT INTO items (id, name, image_ref, first_seen_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
    image_ref = EXCLUDED.image_ref,
    updated_at = GREATEST(EXCLUDED.updated_at, items.first_seen_at)
WHERE items.name IS DISTINCT FROM EXCLUDED.name
   OR items.image_ref IS DISTINCT FROM EXCLUDED.image_ref
RETURNING (xmax = 0) AS inserted`,
		id, name, imageRef, t.now()).Scan(&inserted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ItemUnchanged, nil
		}
		return ItemUnchanged, classify(fmt.Errorf("upsert item %s: %w", id, err))
	}
	if inserted {
		return ItemCreated, nil
	}
	return ItemUpdated, nil
}

func (t *pgItemTx) FetchLatestObservation(ctx context.Context, id string) (*PriceObservation, error) {
	row := t.tx.QueryRow(ctx, `
SELECT id, item_id, price::text, observed_on
FROM price_observations
WHERE item_id = $1
ORDER BY observed_on DESC, id DESC
LIMIT 1`, id)
	obs, err := scanObservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return obs, nil
}

func (t *pgItemTx) AppendObservation(ctx context.Context, id string, price decimal.Decimal, date time.Time) (*PriceObservation, error) {
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: negative price %s for item %s", ErrInvalidPrice, price, id)
	}
	row := t.tx.QueryRow(ctx, `
INSERT INTO price_observations (item_id, price, observed_on)
VALUES ($1, $2::numeric, $3)
RETURNING id, item_id, price::text, observed_on`,
		id, price.StringFixed(2), DateOf(date))
	return scanObservation(row)
}

func scanItemView(row pgx.Row) (*ItemView, error) {
	var (
		v          ItemView
		priceText  *string
		observedOn *time.Time
	)
	if err := row.Scan(&v.ID, &v.Name, &v.ImageRef, &v.FirstSeenAt, &v.UpdatedAt, &priceText, &observedOn); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, classify(fmt.Errorf("scan item: %w", err))
	}
	if priceText != nil {
		p, err := decimal.NewFromString(*priceText)
		if err != nil {
			return nil, fmt.Errorf("parse stored price %q: %w", *priceText, err)
		}
		v.LatestPrice = &p
		v.LatestDate = observedOn
	}
	return &v, nil
}

func scanObservation(row pgx.Row) (*PriceObservation, error) {
	var (
		obs       PriceObservation
		priceText string
	)
	if err := row.Scan(&obs.ID, &obs.ItemID, &priceText, &obs.ObservedOn); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, classify(fmt.Errorf("scan observation: %w", err))
	}
	p, err := decimal.NewFromString(priceText)
	if err != nil {
		return nil, fmt.Errorf("parse stored price %q: %w", priceText, err)
	}
	obs.Price = p
	return &obs, nil
}

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "53300", // too_many_connections
			pgErr.Code == "57P01", // admin_shutdown
			pgErr.Code == "57P02", // crash_shutdown
			pgErr.Code == "57P03": // cannot_connect_now
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

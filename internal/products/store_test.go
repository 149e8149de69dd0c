package products

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock hands out strictly increasing instants, one second apart.
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newStepClock() *stepClock {
	return &stepClock{cur: time.Date(2025, 6, 24, 8, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

var (
	day1 = time.Date(2025, 6, 24, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2025, 6, 25, 0, 0, 0, 0, time.UTC)
)

// observe runs the reconcile sequence by hand: upsert, compare, maybe append.
func observe(t *testing.T, s Store, id, name, price string, date time.Time) (UpsertResult, bool) {
	t.Helper()
	change, appended, err := tryObserve(s, id, name, price, date)
	require.NoError(t, err)
	return change, appended
}

// tryObserve is observe for goroutines other than the test's own.
func tryObserve(s Store, id, name, price string, date time.Time) (UpsertResult, bool, error) {
	ctx := context.Background()
	p, err := decimal.NewFromString(price)
	if err != nil {
		return ItemUnchanged, false, err
	}

	var (
		change   UpsertResult
		appended bool
	)
	err = s.WithItem(ctx, id, func(tx ItemTx) error {
		var err error
		change, err = tx.UpsertItem(ctx, id, name, "https://img/"+id+".jpg")
		if err != nil {
			return err
		}
		latest, err := tx.FetchLatestObservation(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if latest != nil && latest.Price.Equal(p) {
			return nil
		}
		_, err = tx.AppendObservation(ctx, id, p, date)
		appended = err == nil
		return err
	})
	return change, appended, err
}

// runStoreContract exercises behaviour both Store implementations share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T, clock Clock) Store) {
	t.Run("first sighting", func(t *testing.T) {
		s := newStore(t, newStepClock().Now)
		change, appended := observe(t, s, "101", "Rose Bouquet", "1200", day1)
		assert.Equal(t, ItemCreated, change)
		assert.True(t, appended)

		item, err := s.GetItem(context.Background(), "101")
		require.NoError(t, err)
		assert.True(t, item.FirstSeenAt.Equal(item.UpdatedAt))
		require.NotNil(t, item.LatestPrice)
		assert.Equal(t, "1200.00", item.LatestPrice.StringFixed(2))
		require.NotNil(t, item.LatestDate)
		assert.True(t, item.LatestDate.Equal(day1))
	})

	t.Run("unchanged price appends nothing", func(t *testing.T) {
		s := newStore(t, newStepClock().Now)
		observe(t, s, "101", "Rose Bouquet", "1200", day1)
		change, appended := observe(t, s, "101", "Rose Bouquet", "1200.00", day2)
		assert.Equal(t, ItemUnchanged, change)
		assert.False(t, appended)

		hist, err := s.GetPriceHistory(context.Background(), "101")
		require.NoError(t, err)
		assert.Len(t, hist, 1)
	})

	t.Run("attribute change advances updated_at only", func(t *testing.T) {
		s := newStore(t, newStepClock().Now)
		observe(t, s, "101", "Rose Bouquet", "1200", day1)
		before, err := s.GetItem(context.Background(), "101")
		require.NoError(t, err)

		change, appended := observe(t, s, "101", "Rose Bouquet XL", "1200", day2)
		assert.Equal(t, ItemUpdated, change)
		assert.False(t, appended)

		after, err := s.GetItem(context.Background(), "101")
		require.NoError(t, err)
		assert.Equal(t, "Rose Bouquet XL", after.Name)
		assert.True(t, after.FirstSeenAt.Equal(before.FirstSeenAt))
		assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	})

	t.Run("history newest first", func(t *testing.T) {
		s := newStore(t, newStepClock().Now)
		observe(t, s, "101", "Rose Bouquet", "1200", day1)
		observe(t, s, "101", "Rose Bouquet", "1350", day2)
		observe(t, s, "101", "Rose Bouquet", "1300", day2)

		hist, err := s.GetPriceHistory(context.Background(), "101")
		require.NoError(t, err)
		require.Len(t, hist, 3)
		assert.Equal(t, "1300.00", hist[0].Price.StringFixed(2))
		assert.Equal(t, "1350.00", hist[1].Price.StringFixed(2))
		assert.Equal(t, "1200.00", hist[2].Price.StringFixed(2))
		assert.Greater(t, hist[0].ID, hist[1].ID)

		item, err := s.GetItem(context.Background(), "101")
		require.NoError(t, err)
		assert.Equal(t, "1300.00", item.LatestPrice.StringFixed(2))
	})

	t.Run("failed unit rolls back", func(t *testing.T) {
		s := newStore(t, newStepClock().Now)
		ctx := context.Background()
		boom := errors.New("boom")
		err := s.WithItem(ctx, "202", func(tx ItemTx) error {
			if _, err := tx.UpsertItem(ctx, "202", "Tulips", ""); err != nil {
				return err
			}
			if _, err := tx.AppendObservation(ctx, "202", decimal.RequireFromString("850"), day1); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.GetItem(ctx, "202")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("append without item is a constraint violation", func(t *testing.T) {
		s := newStore(t, newStepClock().Now)
		ctx := context.Background()
		err := s.WithItem(ctx, "303", func(tx ItemTx) error {
			_, err := tx.AppendObservation(ctx, "303", decimal.RequireFromString("10"), day1)
			return err
		})
		assert.ErrorIs(t, err, ErrConstraintViolation)
	})

	t.Run("negative price is rejected without a constraint violation", func(t *testing.T) {
		s := newStore(t, newStepClock().Now)
		ctx := context.Background()
		err := s.WithItem(ctx, "404", func(tx ItemTx) error {
			if _, err := tx.UpsertItem(ctx, "404", "Daisies", ""); err != nil {
				return err
			}
			_, err := tx.AppendObservation(ctx, "404", decimal.RequireFromString("-1"), day1)
			return err
		})
		assert.ErrorIs(t, err, ErrInvalidPrice)
		assert.False(t, errors.Is(err, ErrConstraintViolation))
	})

	t.Run("list pages by recency", func(t *testing.T) {
		s := newStore(t, newStepClock().Now)
		for _, id := range []string{"a", "b", "c", "d"} {
			observe(t, s, id, "Item "+id, "100", day1)
		}

		page, total, err := s.ListItems(context.Background(), ListParams{Page: 1, PerPage: 3})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, page, 3)
		assert.Equal(t, "d", page[0].ID)
		assert.Equal(t, "b", page[2].ID)

		page, _, err = s.ListItems(context.Background(), ListParams{Page: 2, PerPage: 3})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "a", page[0].ID)
	})

	t.Run("delete cascades", func(t *testing.T) {
		s := newStore(t, newStepClock().Now)
		ctx := context.Background()
		observe(t, s, "101", "Rose Bouquet", "1200", day1)

		require.NoError(t, s.DeleteItem(ctx, "101"))
		_, err := s.GetPriceHistory(ctx, "101")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteItem(ctx, "101"), ErrNotFound)

		// a fresh sighting starts a new history
		change, appended := observe(t, s, "101", "Rose Bouquet", "1200", day2)
		assert.Equal(t, ItemCreated, change)
		assert.True(t, appended)
	})

	t.Run("concurrent units for one item append once", func(t *testing.T) {
		s := newStore(t, newStepClock().Now)
		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, errs[i] = tryObserve(s, "101", "Rose Bouquet", "1200", day1)
			}()
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		hist, err := s.GetPriceHistory(context.Background(), "101")
		require.NoError(t, err)
		assert.Len(t, hist, 1)
	})

	t.Run("missing item", func(t *testing.T) {
		s := newStore(t, newStepClock().Now)
		_, err := s.GetItem(context.Background(), "nope")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = s.GetPriceHistory(context.Background(), "nope")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock Clock) Store {
		return NewMemoryStore(WithClock(clock))
	})
}

func TestMemoryStore_UnitIsScopedToItem(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	err := s.WithItem(ctx, "a", func(tx ItemTx) error {
		_, err := tx.UpsertItem(ctx, "b", "Other", "")
		return err
	})
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithItem(ctx, "a", func(ItemTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.ErrorIs(t, s.Ping(ctx), context.Canceled)
}

func TestListParams_Normalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ListParams{Page: 1, PerPage: DefaultPerPage}, ListParams{}.Normalize())
	assert.Equal(t, ListParams{Page: 3, PerPage: MaxPerPage}, ListParams{Page: 3, PerPage: 1000}.Normalize())
	assert.Equal(t, 18, ListParams{Page: 3, PerPage: 9}.offset())
}

func TestDateOf(t *testing.T) {
	t.Parallel()

	kyiv := time.FixedZone("EEST", 3*60*60)
	late := time.Date(2025, 6, 24, 23, 30, 0, 0, time.UTC) // 02:30 next day in Kyiv
	assert.Equal(t, day2, DateOf(late.In(kyiv)))
	assert.Equal(t, day1, DateOf(late))
}

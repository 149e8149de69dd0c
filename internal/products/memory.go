package products

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps items and history in process memory. It backs dry runs
// and tests and honours the same per-item atomicity as Repository: writes made
// inside WithItem are staged and only become visible when fn succeeds.
type MemoryStore struct {
	now Clock

	mu      sync.RWMutex
	items   map[string]Item
	history map[string][]PriceObservation
	nextID  int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		now:     o.now,
		items:   make(map[string]Item),
		history: make(map[string][]PriceObservation),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) itemLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *MemoryStore) WithItem(ctx context.Context, id string, fn func(tx ItemTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := m.itemLock(id)
	l.Lock()
	defer l.Unlock()

	tx := &memItemTx{store: m, id: id}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.commit(tx)
	return nil
}

func (m *MemoryStore) commit(tx *memItemTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.item != nil {
		m.items[tx.id] = *tx.item
	}
	for _, obs := range tx.appended {
		m.nextID++
		obs.ID = m.nextID
		m.history[tx.id] = append(m.history[tx.id], obs)
	}
}

func (m *MemoryStore) ListItems(ctx context.Context, params ListParams) ([]ItemView, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	params = params.Normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		all = append(all, it)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].FirstSeenAt.Equal(all[j].FirstSeenAt) {
			return all[i].FirstSeenAt.After(all[j].FirstSeenAt)
		}
		return all[i].ID < all[j].ID
	})

	res := make([]ItemView, 0, params.PerPage)
	for i := params.offset(); i < len(all) && len(res) < params.PerPage; i++ {
		res = append(res, m.viewLocked(all[i]))
	}
	return res, len(all), nil
}

func (m *MemoryStore) GetItem(ctx context.Context, id string) (*ItemView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	v := m.viewLocked(it)
	return &v, nil
}

func (m *MemoryStore) GetPriceHistory(ctx context.Context, id string) ([]PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.items[id]; !ok {
		return nil, ErrNotFound
	}
	out := append([]PriceObservation(nil), m.history[id]...)
	sort.Slice(out, func(i, j int) bool { return observedAfter(out[i], out[j]) })
	if out == nil {
		out = []PriceObservation{}
	}
	return out, nil
}

func (m *MemoryStore) DeleteItem(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := m.itemLock(id)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	delete(m.history, id)
	return nil
}

func (*MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// viewLocked expects m.mu to be held.
func (m *MemoryStore) viewLocked(it Item) ItemView {
	v := ItemView{Item: it}
	if latest := latestOf(m.history[it.ID]); latest != nil {
		p := latest.Price
		d := latest.ObservedOn
		v.LatestPrice = &p
		v.LatestDate = &d
	}
	return v
}

// observedAfter orders by observation date, then sequence id, newest first.
func observedAfter(a, b PriceObservation) bool {
	if !a.ObservedOn.Equal(b.ObservedOn) {
		return a.ObservedOn.After(b.ObservedOn)
	}
	return a.ID > b.ID
}

func latestOf(history []PriceObservation) *PriceObservation {
	var latest *PriceObservation
	for i := range history {
		if latest == nil || observedAfter(history[i], *latest) {
			latest = &history[i]
		}
	}
	return latest
}

// memItemTx stages writes for one item until WithItem commits them.
type memItemTx struct {
	store    *MemoryStore
	id       string
	item     *Item
	appended []PriceObservation
}

func (t *memItemTx) checkID(id string) error {
	if id != t.id {
		return fmt.Errorf("%w: unit for item %s cannot touch item %s", ErrConstraintViolation, t.id, id)
	}
	return nil
}

func (t *memItemTx) FetchItem(ctx context.Context, id string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.checkID(id); err != nil {
		return nil, err
	}
	if t.item != nil {
		it := *t.item
		return &it, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	it, ok := t.store.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (t *memItemTx) UpsertItem(ctx context.Context, id, name, imageRef string) (UpsertResult, error) {
	current, err := t.FetchItem(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return ItemUnchanged, err
	}

	now := t.store.now()
	if current == nil {
		t.item = &Item{ID: id, Name: name, ImageRef: imageRef, FirstSeenAt: now, UpdatedAt: now}
		return ItemCreated, nil
	}
	if current.Name == name && current.ImageRef == imageRef {
		return ItemUnchanged, nil
	}
	current.Name = name
	current.ImageRef = imageRef
	if now.Before(current.FirstSeenAt) {
		now = current.FirstSeenAt
	}
	current.UpdatedAt = now
	t.item = current
	return ItemUpdated, nil
}

func (t *memItemTx) FetchLatestObservation(ctx context.Context, id string) (*PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.checkID(id); err != nil {
		return nil, err
	}

	t.store.mu.RLock()
	committed := append([]PriceObservation(nil), t.store.history[id]...)
	t.store.mu.RUnlock()

	// staged rows have no sequence id yet; give them ids above the committed ones
	maxID := int64(0)
	for _, obs := range committed {
		if obs.ID > maxID {
			maxID = obs.ID
		}
	}
	for i, obs := range t.appended {
		obs.ID = maxID + int64(i) + 1
		committed = append(committed, obs)
	}

	latest := latestOf(committed)
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (t *memItemTx) AppendObservation(ctx context.Context, id string, price decimal.Decimal, date time.Time) (*PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.checkID(id); err != nil {
		return nil, err
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: negative price %s for item %s", ErrInvalidPrice, price, id)
	}
	if _, err := t.FetchItem(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: item %s does not exist", ErrConstraintViolation, id)
		}
		return nil, err
	}

	obs := PriceObservation{ItemID: id, Price: price.Round(2), ObservedOn: DateOf(date)}
	t.appended = append(t.appended, obs)
	return &obs, nil
}

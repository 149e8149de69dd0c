package products

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is the current-state row of a tracked catalog item.
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ImageRef    string    `json:"image_ref"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ItemView is an Item together with its most recent recorded price.
type ItemView struct {
	Item
	LatestPrice *decimal.Decimal `json:"latest_price,omitempty"` // nil when no history yet
	LatestDate  *time.Time       `json:"latest_date,omitempty"`
}

// PriceObservation is one append-only history row.
type PriceObservation struct {
	ID         int64           `json:"id"`
	ItemID     string          `json:"item_id"`
	Price      decimal.Decimal `json:"price"`
	ObservedOn time.Time       `json:"observed_on"`
}

// RawObservation is a single scraped entry of a snapshot before normalization.
type RawObservation struct {
	ID       string `json:"product_id"`
	Name     string `json:"bouquet_name"`
	ImageRef string `json:"photo_url"`
	RawPrice string `json:"price"`
}

// UpsertResult tells what UpsertItem did to the current-state row.
type UpsertResult int

const (
	ItemUnchanged UpsertResult = iota
	ItemCreated
	ItemUpdated
)

func (r UpsertResult) String() string {
	switch r {
	case ItemCreated:
		return "created"
	case ItemUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// ListParams is a page request over items ordered by insertion recency.
type ListParams struct {
	Page    int
	PerPage int
}

const (
	DefaultPerPage = 9
	MaxPerPage     = 100
)

// Normalize clamps the page request to sane bounds.
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p ListParams) offset() int {
	return (p.Page - 1) * p.PerPage
}

// DateOf truncates t to its calendar date in t's location, returned as
// midnight UTC so that dates compare equal regardless of the zone they came from.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package reconcile

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/valeevte/PricePulse/internal/products"
)

var (
	// ErrDuplicateInSnapshot marks a repeated item id within one snapshot.
	ErrDuplicateInSnapshot = errors.New("duplicate item in snapshot")
	// ErrInvalidObservation marks an observation without a usable item id.
	ErrInvalidObservation = errors.New("invalid observation")
)

// Status is the per-item result of a reconciliation.
type Status string

const (
	StatusInserted  Status = "inserted"
	StatusUnchanged Status = "unchanged"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome records what happened to one snapshot entry.
type Outcome struct {
	Index      int                   `json:"index"`
	ItemID     string                `json:"item_id"`
	Status     Status                `json:"status"`
	ItemChange products.UpsertResult `json:"-"`
	Price      *decimal.Decimal      `json:"price,omitempty"`
	Err        error                 `json:"-"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	out := struct {
		plain
		ItemChange string `json:"item_change,omitempty"`
		Reason     string `json:"reason,omitempty"`
	}{plain: plain(o)}
	if o.Status == StatusInserted || o.Status == StatusUnchanged {
		out.ItemChange = o.ItemChange.String()
	}
	if o.Err != nil {
		out.Reason = o.Err.Error()
	}
	return json.Marshal(out)
}

// RunStatus is the verdict over a whole run.
type RunStatus string

const (
	RunSucceeded           RunStatus = "succeeded"
	RunSucceededWithErrors RunStatus = "succeeded_with_errors"
	// RunPartial means the deadline or a cancellation stopped the run early.
	RunPartial RunStatus = "partial"
	// RunFatal means the store became unavailable.
	RunFatal RunStatus = "fatal"
)

// Summary aggregates the outcomes of one run. Remaining counts snapshot
// entries that were never completed because the run stopped early.
type Summary struct {
	Total      int       `json:"total"`
	Inserted   int       `json:"inserted"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Remaining  int       `json:"remaining"`
	Status     RunStatus `json:"status"`
	FatalError error     `json:"-"`
	// Err is set when a partial run was stopped by its context.
	Err        error     `json:"-"`
	Outcomes   []Outcome `json:"outcomes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	out := struct {
		plain
		FatalError string `json:"fatal_error,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	}{plain: plain(s)}
	if s.FatalError != nil {
		out.FatalError = s.FatalError.Error()
	}
	if s.Err != nil {
		out.StopReason = s.Err.Error()
	}
	return json.Marshal(out)
}

// Duration is the wall time the run took.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s *Summary) add(o Outcome) {
	switch o.Status {
	case StatusInserted:
		s.Inserted++
	case StatusUnchanged:
		s.Unchanged++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
	s.Outcomes = append(s.Outcomes, o)
}

func (s *Summary) finish() {
	s.Remaining = s.Total - len(s.Outcomes)
	switch {
	case s.FatalError != nil:
		s.Status = RunFatal
	case s.Err != nil && s.Remaining > 0:
		s.Status = RunPartial
	case s.Failed > 0:
		s.Status = RunSucceededWithErrors
	default:
		s.Status = RunSucceeded
	}
}

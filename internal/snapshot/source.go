// Package snapshot loads the raw observations one reconciliation run consumes.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/valeevte/PricePulse/internal/pricing"
	"github.com/valeevte/PricePulse/internal/products"
)

// DefaultPattern names the scraper's daily dump; the date is formatted with
// the Go layout between braces.
const DefaultPattern = "flowers_data_{20060102}.json"

// ErrNoSnapshot is returned when the expected snapshot file does not exist yet.
var ErrNoSnapshot = errors.New("no snapshot available")

// Source produces the ordered observations of one run.
type Source interface {
	Snapshot(ctx context.Context) ([]products.RawObservation, error)
}

// FileSource reads a JSON array of observations from disk. With Path set it
// always reads that file; otherwise it resolves Pattern against Dir for the
// current date.
type FileSource struct {
	Dir      string
	Pattern  string
	Path     string
	Location *time.Location
	Now      func() time.Time
}

var _ Source = (*FileSource)(nil)

// ResolvePath returns the file the next Snapshot call will read.
func (s *FileSource) ResolvePath() string {
	if s.Path != "" {
		return s.Path
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	pattern := s.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	return filepath.Join(s.Dir, expandDate(pattern, now().In(loc)))
}

func (s *FileSource) Snapshot(ctx context.Context) ([]products.RawObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.ResolvePath()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, path)
		}
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer f.Close()

	obs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return obs, nil
}

// Decode reads a JSON array of observations. String prices are kept as
// scraped for the normalizer; see flexPrice for the other JSON types.
func Decode(r io.Reader) ([]products.RawObservation, error) {
	var entries []rawEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, err
	}

	out := make([]products.RawObservation, 0, len(entries))
	for _, e := range entries {
		out = append(out, products.RawObservation{
			ID:       e.ID,
			Name:     e.Name,
			ImageRef: e.ImageRef,
			RawPrice: e.Price.String(),
		})
	}
	return out, nil
}

type rawEntry struct {
	ID       string    `json:"product_id"`
	Name     string    `json:"bouquet_name"`
	ImageRef string    `json:"photo_url"`
	Price    flexPrice `json:"price"`
}

// flexPrice accepts "1 234,50 ₴" as well as 1234.5. JSON numbers are parsed
// exactly and rewritten with two decimals so no separator guessing applies to
// them. Any other JSON value is kept as raw text; the normalizer then rejects
// that one entry instead of the whole snapshot failing to decode.
type flexPrice string

func (p *flexPrice) UnmarshalJSON(b []byte) error {
	raw := bytes.TrimSpace(b)
	switch {
	case len(raw) == 0 || string(raw) == "null":
		*p = ""
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*p = flexPrice(s)
	case raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'):
		d, err := decimal.NewFromString(string(raw))
		if err != nil {
			*p = flexPrice(raw)
			return nil
		}
		*p = flexPrice(d.StringFixed(pricing.Scale))
	default:
		*p = flexPrice(raw)
	}
	return nil
}

func (p flexPrice) String() string { return string(p) }

// expandDate replaces every {layout} in pattern with t formatted by layout.
func expandDate(pattern string, t time.Time) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(pattern, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(pattern[open:], '}')
		if end < 0 {
			break
		}
		b.WriteString(pattern[:open])
		b.WriteString(t.Format(pattern[open+1 : open+end]))
		pattern = pattern[open+end+1:]
	}
	b.WriteString(pattern)
	return b.String()
}

// Package pricing turns scraped price tokens into canonical decimal values.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every normalized price carries.
const Scale = 2

// ErrMalformedPrice is returned when a raw price cannot be turned into a
// non-negative decimal.
var ErrMalformedPrice = errors.New("malformed price")

// Normalize parses a raw price token such as "1 234,50 ₴" or "$1,299.00".
// Currency symbols, whitespace and any other rune that is not a digit,
// separator or sign are dropped before parsing.
func Normalize(raw string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == ',', r == '-':
			return r
		}
		return -1
	}, raw)

	if t := strings.TrimSpace(raw); strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		return decimal.Zero, fmt.Errorf("%w: %q is a structured value", ErrMalformedPrice, raw)
	}
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: %q has no digits", ErrMalformedPrice, raw)
	}

	negative := false
	if strings.HasPrefix(cleaned, "-") {
		negative = true
		cleaned = cleaned[1:]
	}
	if strings.Contains(cleaned, "-") {
		return decimal.Zero, fmt.Errorf("%w: %q has a misplaced sign", ErrMalformedPrice, raw)
	}

	canonical, ok := resolveSeparators(cleaned)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedPrice, raw)
	}

	value, err := decimal.NewFromString(canonical)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrMalformedPrice, raw, err)
	}
	if negative && !value.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %q is negative", ErrMalformedPrice, raw)
	}

	return value.Round(Scale), nil
}

// MustNormalize is Normalize for literals known to be valid.
func MustNormalize(raw string) decimal.Decimal {
	v, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// resolveSeparators rewrites s (digits, '.' and ',' only) into a plain
// "1234.50" form.
func resolveSeparators(s string) (string, bool) {
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	var decimalSep byte
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimalSep = '.'
		} else {
			decimalSep = ','
		}
	case lastDot >= 0:
		decimalSep = singleKindSeparator(s, '.')
	case lastComma >= 0:
		decimalSep = singleKindSeparator(s, ',')
	}

	var b strings.Builder
	b.Grow(len(s))
	sawDecimal := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == decimalSep && i == strings.LastIndexByte(s, decimalSep):
			b.WriteByte('.')
			sawDecimal = true
		case c == '.' || c == ',':
			// thousands separator
		default:
			return "", false
		}
	}

	out := b.String()
	if out == "" || out == "." {
		return "", false
	}
	if sawDecimal && strings.HasPrefix(out, ".") {
		out = "0" + out
	}
	return strings.TrimSuffix(out, "."), true
}

// singleKindSeparator decides whether sep, the only separator kind present in
// s, marks decimals or thousands. It returns 0 for thousands. A lone separator
// is grouping only when it splits a 1-3 digit leading group without a leading
// zero from exactly three digits, as in "2,500".
func singleKindSeparator(s string, sep byte) byte {
	if strings.Count(s, string(sep)) > 1 {
		return 0
	}
	idx := strings.IndexByte(s, sep)
	lead := s[:idx]
	if len(s)-idx-1 == 3 && len(lead) >= 1 && len(lead) <= 3 && lead[0] != '0' {
		return 0
	}
	return sep
}

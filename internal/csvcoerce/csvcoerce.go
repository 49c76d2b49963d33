// Package csvcoerce implements the field coercion ladder from spec §4.5:
// each raw CSV field is coerced, first match wins, into a decimal, a
// timestamp, a boolean, or left as a string. The ladder is deterministic
// and round-trippable — the same input always yields the same typed
// value, and re-formatting a coerced value and re-parsing it yields the
// same value again.
package csvcoerce

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// timeLayouts are tried in order; the first that fully consumes the
// field wins. Covers ISO-8601 local (no offset) and UTC/offset forms.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Field coerces a single raw CSV cell per the ladder in spec §4.5:
//  1. fixed-point decimal (invariant locale, '.' separator)
//  2. ISO-8601 timestamp (local or UTC/offset forms)
//  3. boolean (case-insensitive true/false)
//  4. otherwise, the raw string (empty field -> empty string)
func Field(raw string) any {
	if raw == "" {
		return ""
	}
	if d, ok := parseDecimal(raw); ok {
		return d
	}
	if t, ok := parseTimestamp(raw); ok {
		return t
	}
	if b, ok := parseBool(raw); ok {
		return b
	}
	return raw
}

// parseDecimal requires the entire field to be consumed as a fixed-point
// decimal literal using '.' as the decimal separator; it rejects
// exponent notation and thousands separators so that ambiguous strings
// (dates, phone numbers) fall through to later rungs of the ladder.
func parseDecimal(raw string) (decimal.Decimal, bool) {
	if !looksLikeDecimalLiteral(raw) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func looksLikeDecimalLiteral(s string) bool {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	if i >= len(s) {
		return false
	}
	sawDigit := false
	sawDot := false
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			sawDigit = true
		case c == '.' && !sawDot:
			sawDot = true
		default:
			return false
		}
	}
	return sawDigit
}

func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(raw) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

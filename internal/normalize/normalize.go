// Package normalize converts locale-formatted text scraped from fund pages
// into typed numeric and date values.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Kind classifies a piece of numeric source text.
type Kind int

const (
	KindEmpty       Kind = iota // blank cell
	KindPlaceholder             // lone dash
	KindNumber                  // parseable number
	KindInvalid                 // anything else
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindPlaceholder:
		return "placeholder"
	case KindNumber:
		return "number"
	default:
		return "invalid"
	}
}

const placeholder = "-"

var hundred = decimal.NewFromInt(100)

// cleanNumeric folds full-width characters, drops thousands separators and
// trims surrounding whitespace.
func cleanNumeric(text string) string {
	text = width.Fold.String(text)
	text = strings.ReplaceAll(text, ",", "")
	return strings.TrimSpace(text)
}

// cleanPercent is cleanNumeric plus removal of a trailing percent marker.
func cleanPercent(text string) string {
	text = cleanNumeric(text)
	text = strings.TrimSuffix(text, "%")
	return strings.TrimSpace(text)
}

func classify(cleaned string) (decimal.Decimal, Kind) {
	switch cleaned {
	case "":
		return decimal.Zero, KindEmpty
	case placeholder:
		return decimal.Zero, KindPlaceholder
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, KindInvalid
	}
	return d, KindNumber
}

// ParseNumber parses amount text without logging. Empty, placeholder and
// invalid text all yield 0.
func ParseNumber(text string) (float64, Kind) {
	d, k := classify(cleanNumeric(text))
	return d.InexactFloat64(), k
}

// ParseAmount parses an amount such as "1,234" into 1234. Placeholder and
// empty text yield 0. Unparseable text yields 0 and a warning.
func ParseAmount(text string) float64 {
	v, k := ParseNumber(text)
	if k == KindInvalid {
		zap.L().Warn("normalize: unparseable amount, using 0",
			zap.String("raw", text),
		)
	}
	return v
}

// ParseFraction parses percent text into a fraction without logging.
func ParseFraction(text string) (float64, Kind) {
	d, k := classify(cleanPercent(text))
	return d.Div(hundred).InexactFloat64(), k
}

// ParsePercent parses a percentage such as "12.5%" into the fraction 0.125.
// Placeholder and empty text yield 0. Unparseable text yields 0 and a
// warning.
func ParsePercent(text string) float64 {
	v, k := ParseFraction(text)
	if k == KindInvalid {
		zap.L().Warn("normalize: unparseable percent, using 0",
			zap.String("raw", text),
		)
	}
	return v
}

// shortDateRe matches a two-digit-year dotted date like "24. 3. 5" anywhere
// in the surrounding text.
var shortDateRe = regexp.MustCompile(`(\d{2})\.\s*(\d{1,2})\.\s*(\d{1,2})`)

// Date lookup failures. ParseShortDate wraps one of these so callers can
// tell a page with no date from one with a malformed date.
var (
	ErrDateNotFound = eris.New("normalize: no date found")
	ErrInvalidDate  = eris.New("normalize: invalid calendar date")
)

// ParseShortDate finds the first yy.M.d date in text. The year is taken to
// be in the 2000s.
func ParseShortDate(text string) (time.Time, error) {
	m := shortDateRe.FindStringSubmatch(width.Fold.String(text))
	if m == nil {
		return time.Time{}, ErrDateNotFound
	}
	yy, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])

	t := time.Date(2000+yy, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes out-of-range values; reject those.
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, eris.Wrapf(ErrInvalidDate, "normalize: date %q", m[0])
	}
	return t, nil
}

var listDateLayouts = []string{"20060102", "2006-01-02", "2006.01.02", "2006/01/02"}

// ParseListDate parses the full-year date formats used by the listing API.
func ParseListDate(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range listDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var spaceRe = regexp.MustCompile(`\s+`)

// Label normalizes free text such as a table category: NFC composition,
// collapsed whitespace, trimmed.
func Label(text string) string {
	text = norm.NFC.String(text)
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

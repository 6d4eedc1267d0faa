package mapper

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// CoerceKind names the cleaning rule applied to a source value before it is
// stored under its canonical field. The set is closed: an unknown kind in
// the mapping table is a startup error, not a runtime surprise.
type CoerceKind string

const (
	// CoerceText trims and collapses whitespace, strips control characters,
	// and treats sentinel strings ("NULL", "None", empty) as absence.
	CoerceText CoerceKind = "text"

	// CoerceInt parses an integer, tolerating thousands separators.
	CoerceInt CoerceKind = "int"

	// CoerceCurrency strips currency symbols and separators and parses to a
	// whole-unit integer amount. Zero and negative amounts are sentinels for
	// "no price" and coerce to absence.
	CoerceCurrency CoerceKind = "currency"

	// CoerceFloat parses a plain floating-point number.
	CoerceFloat CoerceKind = "float"

	// CoerceLeadingNumber extracts the leading numeric token from free text,
	// e.g. "0.63 ac|1/2 - 1 acre" -> 0.63, "1,500 sqft" -> 1500.
	CoerceLeadingNumber CoerceKind = "leading_number"
)

var knownKinds = map[CoerceKind]struct{}{
	CoerceText: {}, CoerceInt: {}, CoerceCurrency: {}, CoerceFloat: {}, CoerceLeadingNumber: {},
}

// sentinels are source values that mean "no value". Comparison is on the
// lowercased, trimmed form.
var sentinels = map[string]struct{}{
	"": {}, "null": {}, "none": {}, "n/a": {}, "na": {}, "-": {},
}

// controlStripper removes control characters that occasionally leak into
// exported listing feeds. Whitespace is collapsed separately so that tabs
// and newlines inside a value become single spaces rather than vanishing.
var controlStripper = runes.Remove(runes.In(unicode.Cc))

// asString renders a raw scalar for cleaning. JSON sources decode numbers as
// float64; CSV sources always produce strings.
func asString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// CleanText normalizes a free-text value. The second return is false when
// the value is absent or a null sentinel.
func CleanText(v any) (string, bool) {
	s, ok := asString(v)
	if !ok {
		return "", false
	}
	s = strings.Join(strings.Fields(s), " ")
	if stripped, _, err := transform.String(controlStripper, s); err == nil {
		s = stripped
	}
	if _, isSentinel := sentinels[strings.ToLower(s)]; isSentinel {
		return "", false
	}
	return s, true
}

// CleanInt parses an integer value, tolerating thousands separators and
// surrounding noise. Failure returns (0, false), never a defaulted zero.
func CleanInt(v any) (int64, bool) {
	s, ok := asString(v)
	if !ok {
		return 0, false
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	// "3.0" style integers from spreadsheet exports.
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
		return int64(f), true
	}
	return 0, false
}

// CleanCurrency parses a monetary amount to whole currency units. Currency
// symbols, codes, and separators are stripped. Amounts that parse to zero or
// below are treated as "no value": exports use "0.00" as a null marker and a
// real price of zero does not occur.
func CleanCurrency(v any) (int64, bool) {
	s, ok := asString(v)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "CAD"), "CAD")
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ', ' ':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// CleanFloat parses a plain float, tolerating thousands separators.
func CleanFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	s, ok := asString(v)
	if !ok {
		return 0, false
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// LeadingNumber extracts the numeric token at the start of a free-text size
// description. Thousands separators inside the token are tolerated; anything
// after the first non-numeric rune is ignored.
func LeadingNumber(v any) (float64, bool) {
	s, ok := asString(v)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	end := 0
	seenDigit := false
	seenDot := false
	for end < len(s) {
		c := s[end]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
		case c == ',' && seenDigit:
			// thousands separator
		case c == '.' && !seenDot:
			seenDot = true
		default:
			goto done
		}
		end++
	}
done:
	if !seenDigit {
		return 0, false
	}
	tok := strings.ReplaceAll(s[:end], ",", "")
	f, err := strconv.ParseFloat(strings.TrimSuffix(tok, "."), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// coerce applies the named kind to a raw value. The bool reports whether a
// usable value was produced; absent or unparseable values yield false and
// are omitted from the canonical record rather than defaulted.
func coerce(kind CoerceKind, v any) (any, bool) {
	switch kind {
	case CoerceText:
		return retype(CleanText(v))
	case CoerceInt:
		return retype(CleanInt(v))
	case CoerceCurrency:
		return retype(CleanCurrency(v))
	case CoerceFloat:
		return retype(CleanFloat(v))
	case CoerceLeadingNumber:
		return retype(LeadingNumber(v))
	}
	return nil, false
}

func retype[T any](v T, ok bool) (any, bool) {
	if !ok {
		return nil, false
	}
	return v, true
}

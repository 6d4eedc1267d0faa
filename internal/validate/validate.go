// Package validate classifies and cleans raw records before they are mapped
// and persisted. Validation is pure: it performs no I/O and never mutates
// its input.
//
// Three strictness levels are supported. Minimal only asserts a usable
// identifier; standard additionally runs every field cleaner and records
// plausibility warnings; strict turns selected warnings into errors and
// requires a minimum field set.
package validate

import (
	"fmt"

	"github.com/EfeObus/NextProperty-sub002/internal/config"
	"github.com/EfeObus/NextProperty-sub002/internal/mapper"
	"github.com/EfeObus/NextProperty-sub002/internal/records"
)

// Level is a named validation strictness tier.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelStandard Level = "standard"
	LevelStrict   Level = "strict"
)

// ParseLevel resolves a level name, defaulting to standard for the empty
// string. Unknown names are an error: a misspelled level silently running
// minimal checks would be worse than failing fast.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case "":
		return LevelStandard, nil
	case LevelMinimal, LevelStandard, LevelStrict:
		return Level(s), nil
	}
	return "", fmt.Errorf("unknown validation level %q", s)
}

// Outcome is the immutable result of validating one record. Cleaned holds
// canonical fields for everything that parsed; unparseable optional fields
// are omitted, never defaulted.
type Outcome struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Cleaned  records.Record
}

// Validator applies one policy at one level. Construct once per run.
type Validator struct {
	Kind   records.Kind
	Level  Level
	Policy config.Policy
}

// strictRequired lists the canonical fields that must be present at strict
// level, beyond the identifier.
var strictRequired = map[records.Kind][]string{
	records.KindProperty: {"property_type", "city", "province"},
	records.KindAgent:    {"name"},
	records.KindEconomic: {"indicator", "value"},
}

// Record validates and cleans a single raw record.
func (v Validator) Record(raw records.Record) Outcome {
	out := Outcome{Cleaned: records.Record{}}

	ident := rawIdentifier(raw, v.Kind)
	if ident == "" {
		out.Errors = append(out.Errors,
			fmt.Sprintf("missing identifier: no non-empty %s column", records.IdentifierFor(v.Kind)))
		return out
	}
	out.Cleaned[records.IdentifierFor(v.Kind)] = ident

	if v.Level == LevelMinimal {
		out.Valid = true
		return out
	}

	for _, m := range mapper.TableFor(v.Kind) {
		if m.Identifier {
			continue
		}
		rawVal, present := raw[m.Source]
		if !present {
			continue
		}
		if _, taken := out.Cleaned[m.Canonical]; taken {
			continue
		}
		cv, ok := coerceField(m, rawVal)
		if !ok {
			if s, hadValue := mapper.CleanText(rawVal); hadValue {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("%s: unparseable value %q discarded", m.Canonical, s))
			}
			continue
		}
		if keep := v.checkRange(m.Canonical, cv, &out); keep {
			out.Cleaned[m.Canonical] = cv
		}
	}

	if v.Level == LevelStrict {
		for _, field := range strictRequired[v.Kind] {
			if _, ok := out.Cleaned[field]; !ok {
				out.Errors = append(out.Errors, fmt.Sprintf("%s: required at strict level", field))
			}
		}
	}

	out.Valid = len(out.Errors) == 0
	return out
}

// coerceField runs the mapping table's cleaner for one field.
func coerceField(m mapper.Mapping, v any) (any, bool) {
	switch m.Kind {
	case mapper.CoerceText:
		s, ok := mapper.CleanText(v)
		return s, ok
	case mapper.CoerceInt:
		n, ok := mapper.CleanInt(v)
		return n, ok
	case mapper.CoerceCurrency:
		n, ok := mapper.CleanCurrency(v)
		return n, ok
	case mapper.CoerceFloat:
		f, ok := mapper.CleanFloat(v)
		return f, ok
	case mapper.CoerceLeadingNumber:
		f, ok := mapper.LeadingNumber(v)
		return f, ok
	}
	return nil, false
}

// checkRange applies plausibility policy to a parsed value. It returns false
// when the value should be discarded (with a warning already recorded);
// implausible values are never clamped silently.
func (v Validator) checkRange(field string, value any, out *Outcome) bool {
	switch field {
	case "latitude":
		if f := value.(float64); f < -90 || f > 90 {
			out.Warnings = append(out.Warnings, fmt.Sprintf("latitude %v outside [-90,90], discarded", f))
			return false
		}
	case "longitude":
		if f := value.(float64); f < -180 || f > 180 {
			out.Warnings = append(out.Warnings, fmt.Sprintf("longitude %v outside [-180,180], discarded", f))
			return false
		}
	case "sqft":
		if f := value.(float64); f < v.Policy.SqftMin || f > v.Policy.SqftMax {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("sqft %v outside plausible range [%v,%v], discarded", f, v.Policy.SqftMin, v.Policy.SqftMax))
			return false
		}
	case "sold_price":
		if n := value.(int64); n < v.Policy.StrictPriceFloor {
			if v.Level == LevelStrict {
				out.Errors = append(out.Errors,
					fmt.Sprintf("sold_price %d below sanity floor %d", n, v.Policy.StrictPriceFloor))
				return false
			}
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("sold_price %d below sanity floor %d", n, v.Policy.StrictPriceFloor))
		}
	case "year_built":
		if n := value.(int64); n < 1800 || n > 2100 {
			out.Warnings = append(out.Warnings, fmt.Sprintf("year_built %d implausible, discarded", n))
			return false
		}
	}
	return true
}

// rawIdentifier scans the recognized identifier columns for the first
// usable value. "NULL"-style sentinels count as absent.
func rawIdentifier(raw records.Record, kind records.Kind) string {
	for _, m := range mapper.TableFor(kind) {
		if !m.Identifier {
			continue
		}
		if s, ok := mapper.CleanText(raw[m.Source]); ok {
			return s
		}
	}
	return ""
}

// RecordIssue describes the problems found in one batch member.
type RecordIssue struct {
	Index    int      `json:"record_index"`
	RecordID string   `json:"record_id,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// BatchResult aggregates per-record outcomes. ValidRecords holds cleaned
// canonical fields in input order; len(ValidRecords)+InvalidCount always
// equals the batch length.
type BatchResult struct {
	ValidRecords []records.Record
	InvalidCount int
	Issues       []RecordIssue
}

// Batch validates every record independently. A failure in one record is
// captured as that record's issue entry and never aborts the rest of the
// batch.
func (v Validator) Batch(batch []records.Record) BatchResult {
	res := BatchResult{ValidRecords: make([]records.Record, 0, len(batch))}
	for i, raw := range batch {
		out := v.safeRecord(raw)
		if out.Valid {
			res.ValidRecords = append(res.ValidRecords, out.Cleaned)
			if len(out.Warnings) > 0 {
				res.Issues = append(res.Issues, RecordIssue{
					Index:    i,
					RecordID: out.Cleaned.Identifier(v.Kind),
					Warnings: out.Warnings,
				})
			}
			continue
		}
		res.InvalidCount++
		res.Issues = append(res.Issues, RecordIssue{
			Index:    i,
			RecordID: out.Cleaned.Identifier(v.Kind),
			Errors:   out.Errors,
			Warnings: out.Warnings,
		})
	}
	return res
}

// safeRecord shields the batch loop from a panicking cleaner; the record is
// reported invalid instead.
func (v Validator) safeRecord(raw records.Record) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Errors: []string{fmt.Sprintf("validation panic: %v", r)}}
		}
	}()
	return v.Record(raw)
}

// Package records defines the loosely-typed record model shared by every
// stage of the import pipeline, plus the canonical column layout of the
// three persisted datasets (property listings, agent records, economic
// indicators).
//
// A Record is a plain map so that parsers can emit rows without committing
// to a schema; the mapper and validator are responsible for turning raw
// source columns into the canonical, typed fields listed here.
package records

import "time"

// Record is a single row at any stage of the pipeline. Before mapping the
// keys are source column names and the values raw scalars (string, number,
// nil); after mapping the keys are canonical field names and the values
// typed (string, int64, float64, bool, time.Time).
type Record map[string]any

// Kind selects which dataset a record belongs to. Each kind has its own
// canonical column set, identifier field, and enrichment behavior.
type Kind string

const (
	KindProperty Kind = "property"
	KindAgent    Kind = "agent"
	KindEconomic Kind = "economic"
)

// Valid reports whether k names a known dataset.
func (k Kind) Valid() bool {
	switch k {
	case KindProperty, KindAgent, KindEconomic:
		return true
	}
	return false
}

// Timestamp columns appended at the canonical-schema boundary. CreatedAt is
// written once on insert; UpdatedAt is refreshed on every upsert.
const (
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
)

// IdentifierFor returns the canonical unique-identifier column for a kind.
func IdentifierFor(k Kind) string {
	switch k {
	case KindAgent:
		return "agent_id"
	case KindEconomic:
		return "indicator_id"
	default:
		return "listing_id"
	}
}

// TableFor returns the target table name for a kind.
func TableFor(k Kind) string {
	switch k {
	case KindAgent:
		return "agents"
	case KindEconomic:
		return "economic_indicators"
	default:
		return "properties"
	}
}

// ColumnsFor returns the ordered canonical column list for a kind, identifier
// first, timestamps last. Storage backends build their INSERT/UPDATE column
// lists from this slice, so the order must be stable.
func ColumnsFor(k Kind) []string {
	switch k {
	case KindAgent:
		return []string{
			"agent_id", "name", "email", "phone", "brokerage", "city", "province",
			ColCreatedAt, ColUpdatedAt,
		}
	case KindEconomic:
		return []string{
			"indicator_id", "indicator", "value", "period", "region",
			ColCreatedAt, ColUpdatedAt,
		}
	default:
		return []string{
			"listing_id", "property_type", "address", "city", "province",
			"postal_code", "latitude", "longitude", "sold_price", "bedrooms",
			"bathrooms", "sqft", "lot_acres", "year_built",
			"ai_valuation", "investment_score", "risk_category",
			ColCreatedAt, ColUpdatedAt,
		}
	}
}

// Identifier returns the record's identifier value as a string, or "" when
// absent. Only string identifiers are produced by the mapper.
func (r Record) Identifier(k Kind) string {
	v, ok := r[IdentifierFor(k)]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Stamp sets created_at and updated_at to now. Both carry the same value on
// a fresh record; backends keep created_at and refresh updated_at on update,
// which is what lets the loader tell inserts from updates afterwards.
func (r Record) Stamp(now time.Time) {
	r[ColCreatedAt] = now
	r[ColUpdatedAt] = now
}

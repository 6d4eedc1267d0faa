// Package mapper turns raw source rows into canonical records. The mapping
// is a static table of (source column, canonical field, coercion kind)
// triples, validated once at package init so that a typo'd coercion kind is
// a startup failure rather than a silent per-row drop.
//
// Mapping is pure and deterministic: unmapped source columns and values that
// fail to parse are simply absent from the output, never populated with
// placeholders. The one hard failure is a missing identifier, which aborts
// the record via MissingIdentifierError.
package mapper

import (
	"fmt"
	"time"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
)

// Mapping binds one source column to a canonical field.
type Mapping struct {
	Source     string
	Canonical  string
	Kind       CoerceKind
	Identifier bool
}

// MissingIdentifierError reports a record without any recognized, non-empty
// identifier column. Such records are invalid at every validation level.
type MissingIdentifierError struct {
	Kind records.Kind
}

func (e *MissingIdentifierError) Error() string {
	return fmt.Sprintf("missing identifier: no recognized %s column present (want %s)",
		e.Kind, records.IdentifierFor(e.Kind))
}

// propertyTable maps MLS-style export columns onto the properties schema.
// Column order in the source file is irrelevant; matching is by name.
var propertyTable = []Mapping{
	{Source: "PostID", Canonical: "listing_id", Kind: CoerceText, Identifier: true},
	{Source: "ListingID", Canonical: "listing_id", Kind: CoerceText, Identifier: true},
	{Source: "MLSNumber", Canonical: "listing_id", Kind: CoerceText, Identifier: true},
	{Source: "PropertyType", Canonical: "property_type", Kind: CoerceText},
	{Source: "BuildingType", Canonical: "property_type", Kind: CoerceText},
	{Source: "StreetAddress", Canonical: "address", Kind: CoerceText},
	{Source: "Address", Canonical: "address", Kind: CoerceText},
	{Source: "City", Canonical: "city", Kind: CoerceText},
	{Source: "Province", Canonical: "province", Kind: CoerceText},
	{Source: "PostalCode", Canonical: "postal_code", Kind: CoerceText},
	{Source: "Latitude", Canonical: "latitude", Kind: CoerceFloat},
	{Source: "Longitude", Canonical: "longitude", Kind: CoerceFloat},
	{Source: "Price", Canonical: "sold_price", Kind: CoerceCurrency},
	{Source: "SoldPrice", Canonical: "sold_price", Kind: CoerceCurrency},
	{Source: "BedroomsTotal", Canonical: "bedrooms", Kind: CoerceInt},
	{Source: "BathroomTotal", Canonical: "bathrooms", Kind: CoerceInt},
	{Source: "SizeInterior", Canonical: "sqft", Kind: CoerceLeadingNumber},
	{Source: "SizeTotalText", Canonical: "lot_acres", Kind: CoerceLeadingNumber},
	{Source: "ConstructedDate", Canonical: "year_built", Kind: CoerceInt},
	{Source: "YearBuilt", Canonical: "year_built", Kind: CoerceInt},
}

var agentTable = []Mapping{
	{Source: "AgentID", Canonical: "agent_id", Kind: CoerceText, Identifier: true},
	{Source: "ID", Canonical: "agent_id", Kind: CoerceText, Identifier: true},
	{Source: "Name", Canonical: "name", Kind: CoerceText},
	{Source: "Email", Canonical: "email", Kind: CoerceText},
	{Source: "Phone", Canonical: "phone", Kind: CoerceText},
	{Source: "Brokerage", Canonical: "brokerage", Kind: CoerceText},
	{Source: "City", Canonical: "city", Kind: CoerceText},
	{Source: "Province", Canonical: "province", Kind: CoerceText},
}

var economicTable = []Mapping{
	{Source: "IndicatorID", Canonical: "indicator_id", Kind: CoerceText, Identifier: true},
	{Source: "SeriesID", Canonical: "indicator_id", Kind: CoerceText, Identifier: true},
	{Source: "Indicator", Canonical: "indicator", Kind: CoerceText},
	{Source: "Value", Canonical: "value", Kind: CoerceFloat},
	{Source: "Period", Canonical: "period", Kind: CoerceText},
	{Source: "Date", Canonical: "period", Kind: CoerceText},
	{Source: "Region", Canonical: "region", Kind: CoerceText},
}

var tables = map[records.Kind][]Mapping{
	records.KindProperty: propertyTable,
	records.KindAgent:    agentTable,
	records.KindEconomic: economicTable,
}

func init() {
	for kind, table := range tables {
		cols := make(map[string]struct{}, len(records.ColumnsFor(kind)))
		for _, c := range records.ColumnsFor(kind) {
			cols[c] = struct{}{}
		}
		hasIdent := false
		for _, m := range table {
			if _, ok := knownKinds[m.Kind]; !ok {
				panic(fmt.Sprintf("mapper: %s mapping %q -> %q has unknown coercion kind %q",
					kind, m.Source, m.Canonical, m.Kind))
			}
			if _, ok := cols[m.Canonical]; !ok {
				panic(fmt.Sprintf("mapper: %s mapping %q targets unknown canonical column %q",
					kind, m.Source, m.Canonical))
			}
			if m.Identifier {
				if m.Canonical != records.IdentifierFor(kind) {
					panic(fmt.Sprintf("mapper: %s identifier mapping %q must target %q",
						kind, m.Source, records.IdentifierFor(kind)))
				}
				hasIdent = true
			}
		}
		if !hasIdent {
			panic(fmt.Sprintf("mapper: %s table declares no identifier mapping", kind))
		}
	}
}

// TableFor exposes the mapping table for a kind. The validator walks it to
// apply field-specific cleaners; callers must not mutate the slice.
func TableFor(k records.Kind) []Mapping {
	return tables[k]
}

// Map converts one raw record into canonical fields. Fields that are absent
// or fail coercion are omitted. When no recognized identifier column carries
// a usable value, Map fails with MissingIdentifierError; all other problems
// skip the field rather than the record.
//
// The import pipeline does not call Map: its validator walks TableFor
// directly so coercion failures can surface as per-field warnings instead of
// silent omissions. Map is the whole-record entry point for callers that
// want mapping without validation.
func Map(raw records.Record, kind records.Kind) (records.Record, error) {
	out := make(records.Record, len(records.ColumnsFor(kind)))
	for _, m := range TableFor(kind) {
		v, present := raw[m.Source]
		if !present {
			continue
		}
		if _, taken := out[m.Canonical]; taken {
			// First usable source column wins for aliased fields.
			continue
		}
		if cv, ok := coerce(m.Kind, v); ok {
			out[m.Canonical] = cv
		}
	}
	if out.Identifier(kind) == "" {
		return nil, &MissingIdentifierError{Kind: kind}
	}
	return out, nil
}

// Stamp appends the creation/update timestamps at the canonical boundary.
// Kept separate from Map so dry runs can map without minting timestamps.
func Stamp(rec records.Record, now time.Time) {
	rec.Stamp(now)
}

// Package enrich adds derived fields to canonical records. Behavior is
// selected through a strategy table keyed by record kind; kinds without
// derived fields use an explicit pass-through so callers never special-case.
package enrich

import (
	"strings"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
)

// Func transforms one canonical record in place and returns it. Every kind
// has a Func; pass-through is a valid strategy.
type Func func(records.Record) records.Record

// valuationMarkup is the placeholder model used until a trained valuation
// service is wired in: estimate = sold price x markup.
const valuationMarkup = 1.08

// strategies dispatches enrichment by record kind.
var strategies = map[records.Kind]Func{
	records.KindProperty: enrichProperty,
	records.KindAgent:    passthrough,
	records.KindEconomic: passthrough,
}

// For returns the enrichment strategy for a kind. Unknown kinds get the
// pass-through.
func For(k records.Kind) Func {
	if f, ok := strategies[k]; ok {
		return f
	}
	return passthrough
}

func passthrough(rec records.Record) records.Record { return rec }

// enrichProperty derives valuation, investment tier, and risk category for a
// listing. All derivations require a sold price; without one the record
// passes through untouched.
func enrichProperty(rec records.Record) records.Record {
	price, ok := rec["sold_price"].(int64)
	if !ok || price <= 0 {
		return rec
	}
	rec["ai_valuation"] = int64(float64(price) * valuationMarkup)
	rec["investment_score"] = investmentTier(price)
	rec["risk_category"] = riskCategory(rec)
	return rec
}

// investmentTier maps a price onto a coarse 1-10 score band.
func investmentTier(price int64) int64 {
	switch {
	case price < 100_000:
		return 3
	case price < 500_000:
		return 5
	case price < 1_000_000:
		return 7
	case price < 2_000_000:
		return 8
	default:
		return 9
	}
}

// riskTable maps property-type substrings (lowercased) onto risk categories.
// First match in order wins.
var riskTable = []struct {
	substr string
	risk   string
}{
	{"vacant land", "high"},
	{"mobile", "high"},
	{"condo", "medium"},
	{"apartment", "medium"},
	{"townhouse", "low"},
	{"single family", "low"},
	{"house", "low"},
}

func riskCategory(rec records.Record) string {
	ptype, _ := rec["property_type"].(string)
	lower := strings.ToLower(ptype)
	for _, e := range riskTable {
		if strings.Contains(lower, e.substr) {
			return e.risk
		}
	}
	return "unknown"
}

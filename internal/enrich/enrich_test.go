package enrich

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
)

func TestEnrichProperty(t *testing.T) {
	t.Parallel()
	rec := records.Record{
		"listing_id":    "A1",
		"sold_price":    int64(650000),
		"property_type": "Single Family Detached",
	}
	got := For(records.KindProperty)(rec)
	require.Equal(t, int64(702000), got["ai_valuation"])
	require.Equal(t, int64(7), got["investment_score"])
	require.Equal(t, "low", got["risk_category"])
}

func TestEnrichPropertyWithoutPrice(t *testing.T) {
	t.Parallel()
	rec := records.Record{"listing_id": "A1", "property_type": "Condo"}
	got := For(records.KindProperty)(rec)
	_, has := got["ai_valuation"]
	require.False(t, has)
	_, has = got["risk_category"]
	require.False(t, has)
}

func TestInvestmentTierBands(t *testing.T) {
	t.Parallel()
	cases := []struct {
		price int64
		want  int64
	}{
		{50_000, 3},
		{99_999, 3},
		{100_000, 5},
		{499_999, 5},
		{500_000, 7},
		{999_999, 7},
		{1_000_000, 8},
		{1_999_999, 8},
		{2_000_000, 9},
	}
	for _, c := range cases {
		if got := investmentTier(c.price); got != c.want {
			t.Fatalf("investmentTier(%d)=%d want %d", c.price, got, c.want)
		}
	}
}

func TestRiskCategory(t *testing.T) {
	t.Parallel()
	cases := []struct {
		ptype string
		want  string
	}{
		{"Vacant Land", "high"},
		{"Mobile Home", "high"},
		{"Condo Apartment", "medium"},
		{"Townhouse", "low"},
		{"Single Family", "low"},
		{"House", "low"},
		{"Commercial Mix", "unknown"},
		{"", "unknown"},
	}
	for _, c := range cases {
		rec := records.Record{"property_type": c.ptype}
		if got := riskCategory(rec); got != c.want {
			t.Fatalf("riskCategory(%q)=%q want %q", c.ptype, got, c.want)
		}
	}
}

func TestPassthroughKinds(t *testing.T) {
	t.Parallel()
	rec := records.Record{"agent_id": "AG1", "name": "Pat"}
	got := For(records.KindAgent)(rec)
	require.Equal(t, records.Record{"agent_id": "AG1", "name": "Pat"}, got)

	got = For(records.Kind("mystery"))(rec)
	require.Equal(t, rec, got)
}

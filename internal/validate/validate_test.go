package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EfeObus/NextProperty-sub002/internal/config"
	"github.com/EfeObus/NextProperty-sub002/internal/records"
)

func newValidator(level Level) Validator {
	return Validator{Kind: records.KindProperty, Level: level, Policy: config.DefaultPolicy()}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", LevelStandard, false},
		{"minimal", LevelMinimal, false},
		{"standard", LevelStandard, false},
		{"strict", LevelStrict, false},
		{"paranoid", "", true},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if c.wantErr {
			require.Error(t, err, "level %q", c.in)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestRecordStandard(t *testing.T) {
	t.Parallel()
	v := newValidator(LevelStandard)
	out := v.Record(records.Record{
		"PostID":        "A1",
		"Price":         "$650,000",
		"BedroomsTotal": "3",
		"SizeInterior":  "1,500 sqft",
	})
	require.True(t, out.Valid)
	require.Empty(t, out.Errors)
	require.Empty(t, out.Warnings)
	require.Equal(t, "A1", out.Cleaned["listing_id"])
	require.Equal(t, int64(650000), out.Cleaned["sold_price"])
	require.Equal(t, int64(3), out.Cleaned["bedrooms"])
	require.Equal(t, float64(1500), out.Cleaned["sqft"])
}

func TestRecordMissingIdentifierAllLevels(t *testing.T) {
	t.Parallel()
	raw := records.Record{"ListingID": "", "Price": "0.00"}
	for _, level := range []Level{LevelMinimal, LevelStandard, LevelStrict} {
		out := newValidator(level).Record(raw)
		require.False(t, out.Valid, "level %s", level)
		require.NotEmpty(t, out.Errors, "level %s", level)
	}
}

func TestRecordMinimalSkipsFieldChecks(t *testing.T) {
	t.Parallel()
	v := newValidator(LevelMinimal)
	out := v.Record(records.Record{"PostID": "A1", "Price": "garbage"})
	require.True(t, out.Valid)
	require.Empty(t, out.Warnings)
	require.Equal(t, records.Record{"listing_id": "A1"}, out.Cleaned)
}

func TestRecordUnparseableFieldWarns(t *testing.T) {
	t.Parallel()
	v := newValidator(LevelStandard)
	out := v.Record(records.Record{"PostID": "A1", "BedroomsTotal": "several"})
	require.True(t, out.Valid)
	require.Len(t, out.Warnings, 1)
	require.Contains(t, out.Warnings[0], "bedrooms")
	_, has := out.Cleaned["bedrooms"]
	require.False(t, has)
}

func TestRecordRangeChecks(t *testing.T) {
	t.Parallel()
	v := newValidator(LevelStandard)
	out := v.Record(records.Record{
		"PostID":       "A1",
		"Latitude":     "137.5",
		"Longitude":    "-79.38",
		"SizeInterior": "75 sqft",
		"YearBuilt":    "1492",
	})
	require.True(t, out.Valid)
	_, hasLat := out.Cleaned["latitude"]
	require.False(t, hasLat)
	require.Equal(t, -79.38, out.Cleaned["longitude"])
	_, hasSqft := out.Cleaned["sqft"]
	require.False(t, hasSqft)
	_, hasYear := out.Cleaned["year_built"]
	require.False(t, hasYear)
	require.Len(t, out.Warnings, 3)
}

func TestRecordPriceFloor(t *testing.T) {
	t.Parallel()

	// standard: below-floor price is a warning, record stays valid
	out := newValidator(LevelStandard).Record(records.Record{"PostID": "A1", "Price": "500"})
	require.True(t, out.Valid)
	require.Len(t, out.Warnings, 1)
	require.Equal(t, int64(500), out.Cleaned["sold_price"])

	// strict: same input becomes a hard error and the price is discarded
	out = newValidator(LevelStrict).Record(records.Record{
		"PostID": "A1", "Price": "500",
		"PropertyType": "House", "City": "Toronto", "Province": "ON",
	})
	require.False(t, out.Valid)
	require.NotEmpty(t, out.Errors)
	_, has := out.Cleaned["sold_price"]
	require.False(t, has)
}

func TestRecordStrictRequiredFields(t *testing.T) {
	t.Parallel()
	v := newValidator(LevelStrict)

	out := v.Record(records.Record{"PostID": "A1", "Price": "$650,000"})
	require.False(t, out.Valid)
	require.Len(t, out.Errors, 3) // property_type, city, province

	out = v.Record(records.Record{
		"PostID": "A1", "Price": "$650,000",
		"PropertyType": "House", "City": "Toronto", "Province": "ON",
	})
	require.True(t, out.Valid)
}

func TestBatchInvariant(t *testing.T) {
	t.Parallel()
	v := newValidator(LevelStandard)
	batch := []records.Record{
		{"PostID": "A1", "Price": "$650,000"},
		{"ListingID": ""},
		{"MLSNumber": "B2", "BedroomsTotal": "lots"},
		{},
	}
	res := v.Batch(batch)
	require.Equal(t, len(batch), len(res.ValidRecords)+res.InvalidCount)
	require.Equal(t, 2, len(res.ValidRecords))
	require.Equal(t, 2, res.InvalidCount)

	// issue entries carry the batch-local index of the failing record
	var invalidIdx []int
	for _, is := range res.Issues {
		if len(is.Errors) > 0 {
			invalidIdx = append(invalidIdx, is.Index)
		}
	}
	require.Equal(t, []int{1, 3}, invalidIdx)
}

func TestBatchWarningOnlyRecordStaysValid(t *testing.T) {
	t.Parallel()
	v := newValidator(LevelStandard)
	res := v.Batch([]records.Record{{"PostID": "A1", "Price": "99"}})
	require.Len(t, res.ValidRecords, 1)
	require.Zero(t, res.InvalidCount)
	require.Len(t, res.Issues, 1)
	require.Empty(t, res.Issues[0].Errors)
	require.NotEmpty(t, res.Issues[0].Warnings)
}

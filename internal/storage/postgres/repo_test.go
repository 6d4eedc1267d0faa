package postgres

import (
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
)

func TestUpsertSQL(t *testing.T) {
	t.Parallel()
	got := upsertSQL(records.KindProperty)

	for _, want := range []string{
		`INSERT INTO "properties"`,
		`ON CONFLICT ("listing_id") DO UPDATE SET`,
		`"updated_at" = EXCLUDED."updated_at"`,
		`RETURNING (xmax = 0)`,
		"$19", // one placeholder per canonical column
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("upsertSQL missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, `"created_at" = EXCLUDED`) {
		t.Fatalf("created_at must not be refreshed on conflict:\n%s", got)
	}
	if strings.Contains(got, `"listing_id" = EXCLUDED`) {
		t.Fatalf("identifier must not be refreshed on conflict:\n%s", got)
	}
}

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()
	got := createTableSQL(records.KindEconomic)
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "economic_indicators"`,
		`"indicator_id" text PRIMARY KEY`,
		`"value" double precision`,
		`"created_at" timestamptz`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("createTableSQL missing %q in:\n%s", want, got)
		}
	}
}

func TestIsRecordError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "23505"}, true}, // unique_violation
		{&pgconn.PgError{Code: "22001"}, true}, // string_data_right_truncation
		{&pgconn.PgError{Code: "53300"}, false}, // too_many_connections
		{&pgconn.PgError{Code: "08006"}, false}, // connection_failure
	}
	for _, c := range cases {
		if got := isRecordError(c.err); got != c.want {
			t.Fatalf("isRecordError(%v)=%v want %v", c.err, got, c.want)
		}
	}
}

func TestPgIdentQuoting(t *testing.T) {
	t.Parallel()
	if got := pgIdent(`bad"name`); got != `"bad""name"` {
		t.Fatalf("pgIdent=%s", got)
	}
}

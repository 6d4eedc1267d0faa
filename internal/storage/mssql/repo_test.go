package mssql

import (
	"strings"
	"testing"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
	"github.com/EfeObus/NextProperty-sub002/internal/storage"
)

func TestExistsSQL(t *testing.T) {
	t.Parallel()
	got := existsSQL(records.KindProperty)
	if got != "SELECT 1 FROM [properties] WHERE [listing_id] = @p1" {
		t.Fatalf("existsSQL=%s", got)
	}
}

func TestInsertSQL(t *testing.T) {
	t.Parallel()
	got := insertSQL(records.KindEconomic)
	for _, want := range []string{
		"INSERT INTO [economic_indicators]",
		"[indicator_id]",
		"@p1",
		"@p7", // one parameter per canonical column
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("insertSQL missing %q in:\n%s", want, got)
		}
	}
}

func TestUpdateSQL(t *testing.T) {
	t.Parallel()
	got := updateSQL(records.KindProperty)
	if !strings.HasPrefix(got, "UPDATE [properties] SET ") {
		t.Fatalf("updateSQL=%s", got)
	}
	if strings.Contains(got, "[created_at] =") {
		t.Fatalf("created_at must not be touched on update:\n%s", got)
	}
	// identifier appears only in the WHERE clause, as the final parameter
	upCols := storage.UpdatableColumns(records.KindProperty)
	wantWhere := "WHERE [listing_id] = @p" // followed by len(upCols)+1
	if !strings.Contains(got, wantWhere) {
		t.Fatalf("updateSQL missing %q in:\n%s", wantWhere, got)
	}
	if n := strings.Count(got, "@p"); n != len(upCols)+1 {
		t.Fatalf("parameter count=%d want %d", n, len(upCols)+1)
	}
}

func TestMsIdentQuoting(t *testing.T) {
	t.Parallel()
	if got := msIdent("bad]name"); got != "[bad]]name]" {
		t.Fatalf("msIdent=%s", got)
	}
}

// Package sqlite implements a SQLite-backed storage.Repository using
// database/sql and the modernc driver. SQLite has native upsert
// (INSERT ... ON CONFLICT DO UPDATE); the dialect does not report
// insert-vs-update, so the statement RETURNs whether the creation and
// update timestamps still match after the write; equal means the row was
// freshly inserted.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
	"github.com/EfeObus/NextProperty-sub002/internal/storage"
)

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the database and pings with a short timeout.
//
// Typical DSNs:
//
//	"file:listings.db?cache=shared"
//	"listings.db"
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// The driver is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	return &Repository{db: db}, nil
}

func (r *Repository) Strategy() storage.Strategy { return storage.StrategyNativeUpsert }

func (r *Repository) Close() { r.db.Close() }

func sqIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func upsertSQL(kind records.Kind) string {
	cols := records.ColumnsFor(kind)
	ident := records.IdentifierFor(kind)
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = sqIdent(c)
		params[i] = "?"
	}
	sets := make([]string, 0, len(cols))
	for _, c := range storage.UpdatableColumns(kind) {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", sqIdent(c), sqIdent(c)))
	}
	// created_at survives the conflict arm while updated_at is refreshed, so
	// the RETURNING comparison is true only for a fresh insert.
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING (%s = %s)",
		sqIdent(records.TableFor(kind)),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "),
		sqIdent(ident),
		strings.Join(sets, ", "),
		sqIdent(records.ColCreatedAt), sqIdent(records.ColUpdatedAt),
	)
}

// Upsert persists one batch inside a single transaction. A failed statement
// does not poison a SQLite transaction, so per-record recovery is a plain
// continue.
func (r *Repository) Upsert(ctx context.Context, kind records.Kind, recs []records.Record) (storage.LoadResult, error) {
	var res storage.LoadResult
	if len(recs) == 0 {
		return res, nil
	}

	unique, dups := storage.DedupeBatch(kind, recs)
	res.Duplicates = dups

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.LoadResult{}, &storage.InfraError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL(kind))
	if err != nil {
		return storage.LoadResult{}, &storage.InfraError{Op: "prepare", Err: err}
	}
	defer stmt.Close()

	cols := records.ColumnsFor(kind)
	for i, rec := range unique {
		var fresh bool
		err := stmt.QueryRowContext(ctx, storage.RowValues(rec, cols)...).Scan(&fresh)
		if err != nil {
			if isRecordError(ctx, err) {
				res.Failed++
				res.Errors = append(res.Errors, storage.RecordError{
					Index:    i,
					RecordID: rec.Identifier(kind),
					Message:  err.Error(),
				})
				continue
			}
			return storage.LoadResult{}, &storage.InfraError{Op: "upsert", Err: err}
		}
		if fresh {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.LoadResult{}, &storage.InfraError{Op: "commit", Err: err}
	}
	return res, nil
}

// isRecordError: a local file database has no connection to lose, so any
// statement error that is not a cancellation is the record's fault.
func isRecordError(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return false
	}
	return true
}

// EnsureTable creates the target table when absent.
func (r *Repository) EnsureTable(ctx context.Context, kind records.Kind) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", sqIdent(records.TableFor(kind)))
	ident := records.IdentifierFor(kind)
	for i, c := range records.ColumnsFor(kind) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", sqIdent(c), sqType(c))
		if c == ident {
			b.WriteString(" PRIMARY KEY")
		}
	}
	b.WriteString(")")
	if _, err := r.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("sqlite: ensure table %s: %w", records.TableFor(kind), err)
	}
	return nil
}

func sqType(col string) string {
	switch col {
	case "sold_price", "bedrooms", "bathrooms", "year_built", "ai_valuation", "investment_score":
		return "INTEGER"
	case "latitude", "longitude", "sqft", "lot_acres", "value":
		return "REAL"
	default:
		return "TEXT" // timestamps stored as text, layout handled by the driver
	}
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, cfg.DSN)
	})
}

// Package mssql implements the SQL Server repository over database/sql with
// the microsoft driver. The dialect has no single-statement upsert we can
// use safely under concurrent writers, so this backend is the
// check-then-write fallback: for each record it probes existence by
// identifier, then issues an UPDATE (excluding identifier and creation
// timestamp) or an INSERT. That costs one extra read round-trip per record,
// the degraded path of the two strategies.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
	"github.com/EfeObus/NextProperty-sub002/internal/storage"
)

// Repository is a SQL Server-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the pool and pings with a short timeout.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mssql ping: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Strategy() storage.Strategy { return storage.StrategyCheckThenWrite }

func (r *Repository) Close() { r.db.Close() }

func msIdent(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

func existsSQL(kind records.Kind) string {
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s = @p1",
		msIdent(records.TableFor(kind)), msIdent(records.IdentifierFor(kind)))
}

func insertSQL(kind records.Kind) string {
	cols := records.ColumnsFor(kind)
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = msIdent(c)
		params[i] = fmt.Sprintf("@p%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		msIdent(records.TableFor(kind)),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "))
}

func updateSQL(kind records.Kind) string {
	cols := storage.UpdatableColumns(kind)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = @p%d", msIdent(c), i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = @p%d",
		msIdent(records.TableFor(kind)),
		strings.Join(sets, ", "),
		msIdent(records.IdentifierFor(kind)),
		len(cols)+1)
}

// Upsert persists one batch inside a single transaction using the
// check-then-write strategy.
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

	var (
		exists = existsSQL(kind)
		insert = insertSQL(kind)
		update = updateSQL(kind)
		cols   = records.ColumnsFor(kind)
		upCols = storage.UpdatableColumns(kind)
	)

	for i, rec := range unique {
		id := rec.Identifier(kind)

		var one int
		err := tx.QueryRowContext(ctx, exists, id).Scan(&one)
		switch {
		case err == nil:
			args := append(storage.RowValues(rec, upCols), id)
			if _, err := tx.ExecContext(ctx, update, args...); err != nil {
				if infra := recordOrInfra(&res, i, id, err); infra != nil {
					return storage.LoadResult{}, infra
				}
				continue
			}
			res.Updated++

		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, insert, storage.RowValues(rec, cols)...); err != nil {
				if infra := recordOrInfra(&res, i, id, err); infra != nil {
					return storage.LoadResult{}, infra
				}
				continue
			}
			res.Inserted++

		default:
			return storage.LoadResult{}, &storage.InfraError{Op: "exists probe", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.LoadResult{}, &storage.InfraError{Op: "commit", Err: err}
	}
	return res, nil
}

// recordOrInfra files a per-record business error into res and returns nil,
// or returns the infrastructure error that should fail the batch.
func recordOrInfra(res *storage.LoadResult, idx int, id string, err error) error {
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		res.Failed++
		res.Errors = append(res.Errors, storage.RecordError{Index: idx, RecordID: id, Message: err.Error()})
		return nil
	}
	return &storage.InfraError{Op: "write", Err: err}
}

// EnsureTable creates the target table when absent.
func (r *Repository) EnsureTable(ctx context.Context, kind records.Kind) error {
	table := records.TableFor(kind)
	ident := records.IdentifierFor(kind)
	var b strings.Builder
	fmt.Fprintf(&b, "IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (", table, msIdent(table))
	for i, c := range records.ColumnsFor(kind) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", msIdent(c), msType(c))
		if c == ident {
			b.WriteString(" PRIMARY KEY")
		}
	}
	b.WriteString(")")
	if _, err := r.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("mssql: ensure table %s: %w", table, err)
	}
	return nil
}

func msType(col string) string {
	switch col {
	case records.ColCreatedAt, records.ColUpdatedAt:
		return "datetime2"
	case "sold_price", "bedrooms", "bathrooms", "year_built", "ai_valuation", "investment_score":
		return "bigint"
	case "latitude", "longitude", "sqft", "lot_acres", "value":
		return "float"
	default:
		return "nvarchar(255)"
	}
}

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, cfg.DSN)
	})
}

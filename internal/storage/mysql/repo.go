// Package mysql implements the MySQL repository over database/sql with the
// go-sql-driver. MySQL has native upsert (INSERT ... ON DUPLICATE KEY
// UPDATE); RowsAffected distinguishes inserts (1) from updates (2) without a
// second round-trip.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
	"github.com/EfeObus/NextProperty-sub002/internal/storage"
)

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the pool and pings with a short timeout so that a bad
// DSN fails at startup, not at the first batch.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Strategy() storage.Strategy { return storage.StrategyNativeUpsert }

func (r *Repository) Close() { r.db.Close() }

func myIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func upsertSQL(kind records.Kind) string {
	cols := records.ColumnsFor(kind)
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = myIdent(c)
		params[i] = "?"
	}
	sets := make([]string, 0, len(cols))
	for _, c := range storage.UpdatableColumns(kind) {
		sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", myIdent(c), myIdent(c)))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		myIdent(records.TableFor(kind)),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "),
		strings.Join(sets, ", "),
	)
}

// Upsert persists one batch inside a single transaction. MySQL does not
// poison a transaction on a failed statement, so per-record recovery needs
// no savepoints here.
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
		sqlRes, err := stmt.ExecContext(ctx, storage.RowValues(rec, cols)...)
		if err != nil {
			if isRecordError(err) {
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
		// ON DUPLICATE KEY UPDATE reports 1 for an insert, 2 for an update.
		// 0 means the row was already byte-identical; count it as an update
		// since the statement still refreshed the row.
		if n, _ := sqlRes.RowsAffected(); n == 1 {
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

// isRecordError: a server-reported MySQL error is the record's fault;
// connection-level failures surface as driver errors and are infrastructure.
func isRecordError(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr)
}

// EnsureTable creates the target table when absent.
func (r *Repository) EnsureTable(ctx context.Context, kind records.Kind) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", myIdent(records.TableFor(kind)))
	for i, c := range records.ColumnsFor(kind) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", myIdent(c), myType(c))
	}
	fmt.Fprintf(&b, ", PRIMARY KEY (%s))", myIdent(records.IdentifierFor(kind)))
	if _, err := r.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("mysql: ensure table %s: %w", records.TableFor(kind), err)
	}
	return nil
}

func myType(col string) string {
	switch col {
	case records.ColCreatedAt, records.ColUpdatedAt:
		return "datetime(6)"
	case "sold_price", "bedrooms", "bathrooms", "year_built", "ai_valuation", "investment_score":
		return "bigint"
	case "latitude", "longitude", "sqft", "lot_acres", "value":
		return "double"
	default:
		return "varchar(255)"
	}
}

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, cfg.DSN)
	})
}

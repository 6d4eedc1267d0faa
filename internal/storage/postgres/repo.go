// Package postgres implements the Postgres repository using pgx v5. The
// dialect has native upsert (INSERT ... ON CONFLICT DO UPDATE), so each
// record is persisted with a single statement; `xmax = 0` in the RETURNING
// clause distinguishes fresh inserts from updates of an existing identifier.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
	"github.com/EfeObus/NextProperty-sub002/internal/storage"
)

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository connects a pool and pings it so invalid DSNs fail fast.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgxpool ping: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Strategy() storage.Strategy { return storage.StrategyNativeUpsert }

func (r *Repository) Close() { r.pool.Close() }

// pgIdent quotes an identifier for safe interpolation into DDL/DML.
func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// upsertSQL builds the per-record statement once per batch.
func upsertSQL(kind records.Kind) string {
	cols := records.ColumnsFor(kind)
	ident := records.IdentifierFor(kind)

	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgIdent(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, 0, len(cols))
	for _, c := range storage.UpdatableColumns(kind) {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(c), pgIdent(c)))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0)",
		pgIdent(records.TableFor(kind)),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "),
		pgIdent(ident),
		strings.Join(sets, ", "),
	)
}

// Upsert persists one batch inside a single transaction. Each record runs
// under a savepoint (pgx nested Begin), so a constraint violation poisons
// only that record; infrastructure failures roll the whole batch back.
func (r *Repository) Upsert(ctx context.Context, kind records.Kind, recs []records.Record) (storage.LoadResult, error) {
	var res storage.LoadResult
	if len(recs) == 0 {
		return res, nil
	}

	unique, dups := storage.DedupeBatch(kind, recs)
	res.Duplicates = dups

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storage.LoadResult{}, &storage.InfraError{Op: "begin", Err: err}
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	cols := records.ColumnsFor(kind)
	sql := upsertSQL(kind)

	for i, rec := range unique {
		sp, err := tx.Begin(ctx) // savepoint
		if err != nil {
			return storage.LoadResult{}, &storage.InfraError{Op: "savepoint", Err: err}
		}

		var inserted bool
		err = sp.QueryRow(ctx, sql, storage.RowValues(rec, cols)...).Scan(&inserted)
		if err != nil {
			_ = sp.Rollback(ctx)
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
		if err := sp.Commit(ctx); err != nil {
			return storage.LoadResult{}, &storage.InfraError{Op: "savepoint commit", Err: err}
		}

		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.LoadResult{}, &storage.InfraError{Op: "commit", Err: err}
	}
	return res, nil
}

// isRecordError reports whether err is a per-record business failure.
// Integrity violations (class 23) and data exceptions (class 22) are the
// record's fault; everything else is infrastructure.
func isRecordError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22")
	}
	return errors.Is(err, pgx.ErrNoRows)
}

// EnsureTable creates the target table when absent.
func (r *Repository) EnsureTable(ctx context.Context, kind records.Kind) error {
	_, err := r.pool.Exec(ctx, createTableSQL(kind))
	if err != nil {
		return fmt.Errorf("postgres: ensure table %s: %w", records.TableFor(kind), err)
	}
	return nil
}

func createTableSQL(kind records.Kind) string {
	ident := records.IdentifierFor(kind)
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", pgIdent(records.TableFor(kind)))
	for i, c := range records.ColumnsFor(kind) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", pgIdent(c), pgType(kind, c))
		if c == ident {
			b.WriteString(" PRIMARY KEY")
		}
	}
	b.WriteString(")")
	return b.String()
}

// pgType picks a column type from the canonical field name. The mapping is
// coarse on purpose: the pipeline, not the database, enforces value shape.
func pgType(kind records.Kind, col string) string {
	switch col {
	case records.ColCreatedAt, records.ColUpdatedAt:
		return "timestamptz"
	case "sold_price", "bedrooms", "bathrooms", "year_built", "ai_valuation", "investment_score":
		return "bigint"
	case "latitude", "longitude", "sqft", "lot_acres", "value":
		return "double precision"
	default:
		return "text"
	}
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, cfg.DSN)
	})
}

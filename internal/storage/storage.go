// Package storage contains the storage-agnostic persistence contracts for
// the import pipeline. Concrete backends live in subpackages and register
// themselves with the factory in this package; callers select a backend by
// kind string and never import driver packages directly.
//
// Persistence strategy is a backend capability fixed at construction time:
// dialects with single-statement insert-or-update report StrategyNativeUpsert,
// while dialects without one fall back to StrategyCheckThenWrite (an
// existence probe followed by UPDATE or INSERT, costing one extra read
// round-trip per record on the degraded path).
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
)

// Config selects and parameterizes a backend.
type Config struct {
	Kind string // registered backend name: "postgres", "mysql", "sqlite", "mssql"
	DSN  string // driver connection string, passed through verbatim
}

// Strategy names how a backend persists an upsert batch.
type Strategy string

const (
	StrategyNativeUpsert   Strategy = "native-upsert"
	StrategyCheckThenWrite Strategy = "check-then-write"
)

// RecordError describes one record that failed to persist. Business errors
// (constraint violations, bad values) are recorded here and never abort the
// batch.
type RecordError struct {
	Index    int    `json:"record_index"`
	RecordID string `json:"record_id,omitempty"`
	Message  string `json:"message"`
}

// LoadResult reports the outcome of one batch. Counters are plain sums so
// results from separate batches merge commutatively.
type LoadResult struct {
	Inserted   int           `json:"inserted"`
	Updated    int           `json:"updated"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Errors     []RecordError `json:"errors,omitempty"`
}

// Merge folds other into r.
func (r *LoadResult) Merge(other LoadResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Duplicates += other.Duplicates
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// InfraError is a batch-level infrastructure failure (connection loss,
// failed transaction begin/commit). The batch's transaction is rolled back;
// the orchestrator counts the whole batch as failed and moves on.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *InfraError) Unwrap() error { return e.Err }

// Repository is the minimal interface of a storage backend.
type Repository interface {
	// Strategy reports the persistence capability chosen at construction.
	Strategy() Strategy

	// Upsert persists one batch of canonical records inside a single
	// transaction. Per-record business errors are counted in the result and
	// do not abort the batch; an *InfraError rolls the transaction back and
	// fails the batch as a whole.
	Upsert(ctx context.Context, kind records.Kind, recs []records.Record) (LoadResult, error)

	// EnsureTable creates the target table for kind when absent.
	EnsureTable(ctx context.Context, kind records.Kind) error

	// Close releases the connection pool.
	Close()
}

// Factory constructs a Repository from config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs a backend factory under kind. Backend packages call this
// from init(); the storage/all package blank-imports them so that a single
// import wires every backend into a binary.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New constructs the repository for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend names, sorted.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RowValues projects a record onto the ordered column list; absent fields
// become NULL.
func RowValues(rec records.Record, cols []string) []any {
	row := make([]any, len(cols))
	for i, c := range cols {
		row[i] = rec[c] // nil when missing
	}
	return row
}

// UpdatableColumns returns the columns refreshed on conflict: everything
// except the identifier and the creation timestamp. The update timestamp is
// included so it is explicitly refreshed on every upsert.
func UpdatableColumns(kind records.Kind) []string {
	ident := records.IdentifierFor(kind)
	cols := records.ColumnsFor(kind)
	out := make([]string, 0, len(cols)-2)
	for _, c := range cols {
		if c == ident || c == records.ColCreatedAt {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DedupeBatch removes records whose identifier already appeared earlier in
// the same batch, keeping the last occurrence, and reports how many were
// dropped. Within-batch repeats would otherwise race their own upsert inside
// one transaction.
func DedupeBatch(kind records.Kind, recs []records.Record) ([]records.Record, int) {
	seen := make(map[string]int, len(recs))
	dropped := 0
	out := make([]records.Record, 0, len(recs))
	for _, rec := range recs {
		id := rec.Identifier(kind)
		if at, dup := seen[id]; dup {
			out[at] = rec // keep-last
			dropped++
			continue
		}
		seen[id] = len(out)
		out = append(out, rec)
	}
	return out, dropped
}

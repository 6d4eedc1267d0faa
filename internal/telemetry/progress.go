// Package telemetry provides in-process observability for import runs:
// pollable progress for long operations, stage-level performance capture,
// and capped error aggregation. Everything here is process-local state;
// callers poll it, nothing is pushed to an external system.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Progress is a point-in-time snapshot of one tracked operation. Done is
// true only on the final snapshot returned by Deregister.
type Progress struct {
	OperationID string        `json:"operation_id"`
	Total       int64         `json:"total"`
	Processed   int64         `json:"processed"`
	Percent     float64       `json:"percent"`
	Errors      int64         `json:"errors"`
	Elapsed     time.Duration `json:"elapsed"`
	ETA         time.Duration `json:"eta"`
	Done        bool          `json:"done"`
}

type operation struct {
	total     int64
	processed int64
	errors    int64
	started   time.Time
}

// Tracker registers in-flight operations and answers progress queries about
// them. An operation lives from Start to Deregister; a long-running host
// holds no tracker state for finished runs. All methods are safe for
// concurrent use.
type Tracker struct {
	mu  sync.Mutex
	ops map[string]*operation
}

func NewTracker() *Tracker {
	return &Tracker{ops: make(map[string]*operation)}
}

// Start registers a new operation with an expected total item count and
// returns its id. A zero or negative total means the total is unknown;
// percent and ETA stay zero in that case.
func (t *Tracker) Start(total int64) string {
	id := uuid.NewString()
	t.mu.Lock()
	t.ops[id] = &operation{total: total, started: time.Now()}
	t.mu.Unlock()
	return id
}

// Update advances the processed and error counters for an operation.
// Unknown ids are ignored, callers do not hold progress state themselves.
func (t *Tracker) Update(id string, processed, errors int64) {
	t.mu.Lock()
	if op, ok := t.ops[id]; ok {
		op.processed = processed
		op.errors = errors
	}
	t.mu.Unlock()
}

// Add increments the processed and error counters.
func (t *Tracker) Add(id string, processed, errors int64) {
	t.mu.Lock()
	if op, ok := t.ops[id]; ok {
		op.processed += processed
		op.errors += errors
	}
	t.mu.Unlock()
}

// Deregister removes an operation and returns its final snapshot. The entry
// is destroyed: later GetProgress calls for the id fail, and updates are
// dropped. Callers keep the returned snapshot (or the run summary) instead.
func (t *Tracker) Deregister(id string) (Progress, error) {
	t.mu.Lock()
	op, ok := t.ops[id]
	if !ok {
		t.mu.Unlock()
		return Progress{}, fmt.Errorf("telemetry: unknown operation %q", id)
	}
	delete(t.ops, id)
	snap := *op
	t.mu.Unlock()

	p := snapshot(id, snap)
	p.Done = true
	p.ETA = 0
	return p, nil
}

// GetProgress returns a snapshot for a registered operation id.
func (t *Tracker) GetProgress(id string) (Progress, error) {
	t.mu.Lock()
	op, ok := t.ops[id]
	if !ok {
		t.mu.Unlock()
		return Progress{}, fmt.Errorf("telemetry: unknown operation %q", id)
	}
	snap := *op
	t.mu.Unlock()
	return snapshot(id, snap), nil
}

func snapshot(id string, op operation) Progress {
	p := Progress{
		OperationID: id,
		Total:       op.total,
		Processed:   op.processed,
		Errors:      op.errors,
		Elapsed:     time.Since(op.started),
	}
	if op.total > 0 {
		p.Percent = 100 * float64(op.processed) / float64(op.total)
		if op.processed > 0 {
			if remaining := op.total - op.processed; remaining > 0 {
				p.ETA = p.Elapsed / time.Duration(op.processed) * time.Duration(remaining)
			}
		}
	}
	return p
}

package telemetry

import "sync"

// ErrAgg aggregates error messages with a cap on how many are retained
// verbatim. Every message still counts toward the total and its bucket, so
// a pathological source cannot balloon memory while the summary stays
// accurate.
type ErrAgg struct {
	mu      sync.Mutex
	limit   int
	count   int
	first   []string
	buckets map[string]int
}

// NewErrAgg returns an aggregator keeping at most limit verbatim messages.
func NewErrAgg(limit int) *ErrAgg {
	return &ErrAgg{limit: limit, buckets: make(map[string]int)}
}

// Add records one error message.
func (a *ErrAgg) Add(msg string) {
	a.mu.Lock()
	a.buckets[msg]++
	if a.count < a.limit {
		a.first = append(a.first, msg)
	}
	a.count++
	a.mu.Unlock()
}

// Count returns the total number of messages seen, capped or not.
func (a *ErrAgg) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// First returns a copy of the retained verbatim messages, in arrival order.
func (a *ErrAgg) First() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.first))
	copy(out, a.first)
	return out
}

// Buckets returns a copy of the per-message counts.
func (a *ErrAgg) Buckets() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.buckets))
	for k, v := range a.buckets {
		out[k] = v
	}
	return out
}

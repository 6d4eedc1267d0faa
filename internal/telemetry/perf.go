package telemetry

import (
	"runtime"
	"sync"
	"time"
)

// StageStats summarizes every recorded run of one pipeline stage.
type StageStats struct {
	Stage       string        `json:"stage"`
	Count       int           `json:"count"`
	Total       time.Duration `json:"total"`
	Avg         time.Duration `json:"avg"`
	Min         time.Duration `json:"min"`
	Max         time.Duration `json:"max"`
	AvgHeapUsed int64         `json:"avg_heap_used"`
	MaxHeapUsed int64         `json:"max_heap_used"`
}

type stageAcc struct {
	count    int
	total    time.Duration
	min      time.Duration
	max      time.Duration
	heapSum  int64
	heapPeak int64
}

// Monitor records per-stage wall time and heap growth. Heap numbers come
// from runtime.ReadMemStats deltas, so concurrent allocation elsewhere in
// the process bleeds into them; treat them as indicative, not exact.
type Monitor struct {
	mu     sync.Mutex
	stages map[string]*stageAcc
}

func NewMonitor() *Monitor {
	return &Monitor{stages: make(map[string]*stageAcc)}
}

// StageTimer begins timing one run of a stage. Call the returned function
// when the stage completes.
func (m *Monitor) StageTimer(stage string) func() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapBefore := int64(ms.HeapAlloc)
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		runtime.ReadMemStats(&ms)
		heapDelta := int64(ms.HeapAlloc) - heapBefore
		if heapDelta < 0 {
			heapDelta = 0
		}
		m.record(stage, elapsed, heapDelta)
	}
}

func (m *Monitor) record(stage string, d time.Duration, heap int64) {
	m.mu.Lock()
	acc, ok := m.stages[stage]
	if !ok {
		acc = &stageAcc{min: d, max: d}
		m.stages[stage] = acc
	}
	acc.count++
	acc.total += d
	if d < acc.min {
		acc.min = d
	}
	if d > acc.max {
		acc.max = d
	}
	acc.heapSum += heap
	if heap > acc.heapPeak {
		acc.heapPeak = heap
	}
	m.mu.Unlock()
}

// Summary returns the stats for every stage recorded so far.
func (m *Monitor) Summary() map[string]StageStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]StageStats, len(m.stages))
	for name, acc := range m.stages {
		s := StageStats{
			Stage:       name,
			Count:       acc.count,
			Total:       acc.total,
			Min:         acc.min,
			Max:         acc.max,
			MaxHeapUsed: acc.heapPeak,
		}
		if acc.count > 0 {
			s.Avg = acc.total / time.Duration(acc.count)
			s.AvgHeapUsed = acc.heapSum / int64(acc.count)
		}
		out[name] = s
	}
	return out
}

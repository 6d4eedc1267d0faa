// Package pipeline wires extraction, validation, mapping, enrichment, and
// persistence into one run. The orchestrator drives a batch loop: load mode
// is strictly sequential and owns the repository handle for the run's
// duration; dry-run mode fans batches out across a bounded worker pool
// because validation is pure and touches no store.
//
// Cancellation is cooperative. The context is observed only at batch
// boundaries, so an in-flight batch always completes (and commits) before
// the run stops.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/EfeObus/NextProperty-sub002/internal/config"
	"github.com/EfeObus/NextProperty-sub002/internal/enrich"
	"github.com/EfeObus/NextProperty-sub002/internal/extract"
	"github.com/EfeObus/NextProperty-sub002/internal/mapper"
	"github.com/EfeObus/NextProperty-sub002/internal/records"
	"github.com/EfeObus/NextProperty-sub002/internal/storage"
	"github.com/EfeObus/NextProperty-sub002/internal/telemetry"
	"github.com/EfeObus/NextProperty-sub002/internal/validate"
)

// State names the orchestrator's position in a run.
type State string

const (
	StateIdle         State = "idle"
	StateCounting     State = "counting"
	StateStreaming    State = "streaming"
	StateDraining     State = "draining"
	StateShuttingDown State = "shutting_down"
	StateSummarizing  State = "summarizing"
	StateDone         State = "done"
)

// CriticalPipelineError is fatal: row counting or extractor setup failed
// before any batch work. It propagates to the caller; per-record and
// per-batch problems never do.
type CriticalPipelineError struct {
	Op  string
	Err error
}

func (e *CriticalPipelineError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Op, e.Err)
}
func (e *CriticalPipelineError) Unwrap() error { return e.Err }

// Options select the source and behavior of one run.
type Options struct {
	FilePath   string
	Kind       records.Kind
	Level      string // minimal, standard, strict; empty means standard
	ResumeFrom int    // data rows to skip; negative means derive from checkpoint
	DryRun     bool
	BatchSize  int // 0 uses the configured default
}

// ErrorDetail is one entry in the summary's bounded error preview.
type ErrorDetail struct {
	Batch    int      `json:"batch"`
	Index    int      `json:"record_index"`
	RecordID string   `json:"record_id,omitempty"`
	Stage    string   `json:"stage"`
	Messages []string `json:"messages"`
}

// Summary is the sole result of a run. Callers needing machine-readable
// output serialize it directly; the pipeline does no terminal formatting.
type Summary struct {
	OperationID       string                          `json:"operation_id"`
	TotalProcessed    int                             `json:"total_processed"`
	SuccessfulImports int                             `json:"successful_imports"`
	UpdatedCount      int                             `json:"updated_count"`
	DuplicateCount    int                             `json:"duplicate_count"`
	FailedImports     int                             `json:"failed_imports"`
	SkippedRows       int                             `json:"skipped_rows"`
	SuccessRate       float64                         `json:"success_rate"`
	TotalErrors       int                             `json:"total_errors"`
	Errors            []ErrorDetail                   `json:"errors,omitempty"`
	Performance       map[string]telemetry.StageStats `json:"performance,omitempty"`
	ResumedFrom       int                             `json:"resumed_from,omitempty"`
	Interrupted       bool                            `json:"interrupted,omitempty"`
	DryRun            bool                            `json:"dry_run,omitempty"`
}

// Importer runs imports against one repository. Construct with New; safe
// for sequential reuse, one run at a time.
type Importer struct {
	repo    storage.Repository
	cfg     config.Config
	tracker *telemetry.Tracker
	monitor *telemetry.Monitor

	mu    sync.Mutex
	state State
}

func New(repo storage.Repository, cfg config.Config) *Importer {
	return &Importer{
		repo:    repo,
		cfg:     cfg,
		tracker: telemetry.NewTracker(),
		monitor: telemetry.NewMonitor(),
		state:   StateIdle,
	}
}

// Tracker exposes the progress tracker so a hosting application can poll
// get-progress for the returned operation id while a run is in flight.
func (im *Importer) Tracker() *telemetry.Tracker { return im.tracker }

// State reports the orchestrator's current position.
func (im *Importer) State() State {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.state
}

func (im *Importer) setState(s State) {
	im.mu.Lock()
	im.state = s
	im.mu.Unlock()
}

// dryPoolSize bounds the dry-run worker pool.
func dryPoolSize() int {
	n := runtime.GOMAXPROCS(0) + 4
	if n > 32 {
		n = 32
	}
	return n
}

// Import executes one run and returns its summary. Only SourceFormatError
// and CriticalPipelineError are returned as errors; everything recoverable
// lands in the summary.
func (im *Importer) Import(ctx context.Context, opts Options) (Summary, error) {
	return im.run(ctx, opts, dryPoolSize())
}

// ImportSync is the synchronous single-threaded variant: dry-run batches
// are validated one at a time instead of across a worker pool. Load mode is
// already sequential, so it behaves identically there.
func (im *Importer) ImportSync(ctx context.Context, opts Options) (Summary, error) {
	return im.run(ctx, opts, 1)
}

func (im *Importer) run(ctx context.Context, opts Options, workers int) (Summary, error) {
	defer im.setState(StateDone)

	if !opts.Kind.Valid() {
		return Summary{}, fmt.Errorf("pipeline: unknown data type %q", opts.Kind)
	}
	level, err := validate.ParseLevel(opts.Level)
	if err != nil {
		return Summary{}, fmt.Errorf("pipeline: %w", err)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = im.cfg.BatchSize
	}

	resume := opts.ResumeFrom
	if resume < 0 {
		resume = 0
		if im.cfg.CheckpointPath != "" {
			resume, err = ResumeOffset(im.cfg.CheckpointPath, opts.FilePath)
			if err != nil {
				return Summary{}, &CriticalPipelineError{Op: "resolve checkpoint", Err: err}
			}
		}
	}

	ext, err := extract.New(opts.FilePath, extract.Options{BatchSize: batchSize, ResumeFrom: resume})
	if err != nil {
		return Summary{}, err
	}

	if !opts.DryRun && im.cfg.AutoCreateTable {
		if err := im.repo.EnsureTable(ctx, opts.Kind); err != nil {
			return Summary{}, &CriticalPipelineError{Op: "ensure table", Err: err}
		}
	}

	im.setState(StateCounting)
	total, err := ext.Count(ctx)
	if err != nil {
		return Summary{}, &CriticalPipelineError{Op: "count rows", Err: err}
	}
	remaining := total - int64(resume)
	if remaining < 0 {
		remaining = 0
	}

	run := &runState{
		importer:  im,
		validator: validate.Validator{Kind: opts.Kind, Level: level, Policy: im.cfg.Policy},
		enricher:  enrich.For(opts.Kind),
		opts:      opts,
		resume:    resume,
		workers:   workers,
		started:   time.Now(),
	}
	run.summary.OperationID = im.tracker.Start(remaining)
	run.summary.ResumedFrom = resume
	run.summary.DryRun = opts.DryRun

	im.setState(StateStreaming)
	batches := make(chan extract.Batch, 1)
	var streamErr error
	var streamDone sync.WaitGroup
	streamDone.Add(1)
	go func() {
		defer streamDone.Done()
		defer close(batches)
		streamErr = ext.Stream(ctx, batches, func(line int, err error) {
			log.Printf("row %d skipped: %v", line, err)
		})
	}()

	if opts.DryRun {
		run.consumeDry(ctx, batches)
	} else {
		run.consumeLoad(ctx, batches)
	}

	im.setState(StateDraining)
	streamDone.Wait()
	if streamErr != nil {
		if errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded) {
			run.summary.Interrupted = true
		} else {
			im.tracker.Deregister(run.summary.OperationID)
			return Summary{}, &CriticalPipelineError{Op: "stream", Err: streamErr}
		}
	}

	im.setState(StateSummarizing)
	return run.finish(), nil
}

// runState carries one run's accumulating summary and fixed collaborators.
type runState struct {
	importer  *Importer
	validator validate.Validator
	enricher  enrich.Func
	opts      Options
	resume    int
	workers   int
	started   time.Time

	mu      sync.Mutex
	summary Summary
}

// batchOutcome is the immutable per-batch result a worker hands back.
type batchOutcome struct {
	batch   extract.Batch
	result  validate.BatchResult
	load    storage.LoadResult
	infra   error
	rowsEnd int
}

// consumeDry distributes batches across a bounded pool. Merging happens on
// this goroutine in completion order, so every summary counter must be a
// commutative sum.
func (r *runState) consumeDry(ctx context.Context, batches <-chan extract.Batch) {
	sem := semaphore.NewWeighted(int64(r.workers))
	results := make(chan batchOutcome)

	var wg sync.WaitGroup
	go func() {
		defer close(results)
		defer wg.Wait()
		for b := range batches {
			if err := sem.Acquire(ctx, 1); err != nil {
				r.markInterrupted()
				return
			}
			wg.Add(1)
			go func(b extract.Batch) {
				defer wg.Done()
				defer sem.Release(1)
				stop := r.importer.monitor.StageTimer("validate")
				res := r.validator.Batch(b.Records)
				stop()
				results <- batchOutcome{batch: b, result: res}
			}(b)
		}
	}()

	for out := range results {
		r.mergeDry(out)
	}
}

func (r *runState) mergeDry(out batchOutcome) {
	r.mu.Lock()
	s := &r.summary
	s.TotalProcessed += len(out.batch.Records)
	s.SkippedRows += out.batch.Skipped
	s.SuccessfulImports += len(out.result.ValidRecords)
	s.FailedImports += out.result.InvalidCount
	r.appendIssues(out.batch.Index, out.result.Issues)
	processed, failed := s.TotalProcessed, s.FailedImports
	r.mu.Unlock()

	r.importer.tracker.Update(r.summary.OperationID, int64(processed), int64(failed))
}

// consumeLoad is the sequential load loop: validate, stamp, enrich, upsert,
// checkpoint, one batch at a time. The repository handle is owned by this
// goroutine for the whole run.
func (r *runState) consumeLoad(ctx context.Context, batches <-chan extract.Batch) {
	im := r.importer
	for b := range batches {
		select {
		case <-ctx.Done():
			r.markInterrupted()
			return
		default:
		}

		stop := im.monitor.StageTimer("validate")
		res := r.validator.Batch(b.Records)
		stop()

		now := time.Now().UTC()
		recs := make([]records.Record, 0, len(res.ValidRecords))
		stop = im.monitor.StageTimer("transform")
		for _, rec := range res.ValidRecords {
			mapper.Stamp(rec, now)
			recs = append(recs, r.enricher(rec))
		}
		stop()

		stop = im.monitor.StageTimer("load")
		loaded, err := im.repo.Upsert(ctx, r.opts.Kind, recs)
		stop()

		out := batchOutcome{batch: b, result: res, load: loaded, rowsEnd: b.Offset + len(b.Records) + b.Skipped}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.markInterrupted()
				return
			}
			// whole batch rolled back; the run continues
			out.infra = err
			out.load = storage.LoadResult{}
		}
		r.mergeLoad(out, len(recs))
		r.logBatch(b, loaded)
		r.saveCheckpoint(out)
	}
}

func (r *runState) mergeLoad(out batchOutcome, attempted int) {
	r.mu.Lock()
	s := &r.summary
	s.TotalProcessed += len(out.batch.Records)
	s.SkippedRows += out.batch.Skipped
	s.FailedImports += out.result.InvalidCount
	r.appendIssues(out.batch.Index, out.result.Issues)

	if out.infra != nil {
		s.FailedImports += attempted
		s.TotalErrors++
		if len(s.Errors) < r.importer.cfg.ErrorPreview {
			s.Errors = append(s.Errors, ErrorDetail{
				Batch:    out.batch.Index,
				Index:    -1,
				Stage:    "load",
				Messages: []string{out.infra.Error()},
			})
		}
	} else {
		s.SuccessfulImports += out.load.Inserted
		s.UpdatedCount += out.load.Updated
		s.DuplicateCount += out.load.Duplicates
		s.FailedImports += out.load.Failed
		for _, re := range out.load.Errors {
			s.TotalErrors++
			if len(s.Errors) < r.importer.cfg.ErrorPreview {
				s.Errors = append(s.Errors, ErrorDetail{
					Batch:    out.batch.Index,
					Index:    re.Index,
					RecordID: re.RecordID,
					Stage:    "load",
					Messages: []string{re.Message},
				})
			}
		}
	}
	processed, failed := s.TotalProcessed, s.FailedImports
	r.mu.Unlock()

	r.importer.tracker.Update(r.summary.OperationID, int64(processed), int64(failed))
}

// appendIssues folds validator issues into the bounded preview. Caller holds
// r.mu.
func (r *runState) appendIssues(batchIdx int, issues []validate.RecordIssue) {
	s := &r.summary
	for _, is := range issues {
		if len(is.Errors) == 0 {
			continue // warning-only records imported fine
		}
		s.TotalErrors++
		if len(s.Errors) < r.importer.cfg.ErrorPreview {
			s.Errors = append(s.Errors, ErrorDetail{
				Batch:    batchIdx,
				Index:    is.Index,
				RecordID: is.RecordID,
				Stage:    "validate",
				Messages: is.Errors,
			})
		}
	}
}

func (r *runState) markInterrupted() {
	r.mu.Lock()
	r.summary.Interrupted = true
	r.mu.Unlock()
	r.importer.setState(StateShuttingDown)
}

func (r *runState) logBatch(b extract.Batch, loaded storage.LoadResult) {
	r.mu.Lock()
	processed := r.summary.TotalProcessed
	r.mu.Unlock()
	elapsed := time.Since(r.started)
	rps := float64(processed) / elapsed.Seconds()
	log.Printf("batch #%d: rps=%s inserted=%d updated=%d failed=%d total_processed=%s elapsed=%s",
		b.Index, humanize.CommafWithDigits(rps, 0), loaded.Inserted, loaded.Updated,
		loaded.Failed, humanize.Comma(int64(processed)), elapsed.Round(time.Millisecond))
}

func (r *runState) saveCheckpoint(out batchOutcome) {
	path := r.importer.cfg.CheckpointPath
	if path == "" {
		return
	}
	fp, err := extract.Fingerprint(r.opts.FilePath)
	if err != nil {
		log.Printf("checkpoint fingerprint: %v", err)
		return
	}
	r.mu.Lock()
	cp := Checkpoint{
		SourcePath:  r.opts.FilePath,
		Fingerprint: fp,
		RowsDone:    out.rowsEnd,
		Inserted:    r.summary.SuccessfulImports,
		Updated:     r.summary.UpdatedCount,
		Failed:      r.summary.FailedImports,
	}
	r.mu.Unlock()
	if err := SaveCheckpoint(path, cp); err != nil {
		log.Printf("checkpoint save: %v", err)
	}
}

// finish closes the books: success rate, performance snapshot, checkpoint
// cleanup on a clean load run. The tracker entry is destroyed with the run;
// the returned summary is the final word on it.
func (r *runState) finish() Summary {
	im := r.importer
	im.tracker.Deregister(r.summary.OperationID)

	r.mu.Lock()
	s := r.summary
	r.mu.Unlock()

	if s.TotalProcessed > 0 {
		s.SuccessRate = 100 * float64(s.TotalProcessed-s.FailedImports) / float64(s.TotalProcessed)
	}
	s.Performance = im.monitor.Summary()

	if !s.Interrupted && !r.opts.DryRun && im.cfg.CheckpointPath != "" {
		if err := ClearCheckpoint(im.cfg.CheckpointPath); err != nil {
			log.Printf("checkpoint clear: %v", err)
		}
	}
	return s
}

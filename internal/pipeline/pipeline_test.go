package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EfeObus/NextProperty-sub002/internal/config"
	"github.com/EfeObus/NextProperty-sub002/internal/extract"
	"github.com/EfeObus/NextProperty-sub002/internal/records"
	"github.com/EfeObus/NextProperty-sub002/internal/storage"
)

// fakeRepo captures upserts in memory and can be told to fail a given call.
type fakeRepo struct {
	mu       sync.Mutex
	calls    int
	batches  [][]records.Record
	failOn   map[int]error // call ordinal -> error to return
	onUpsert func(call int)
	ensured  []records.Kind
}

func (f *fakeRepo) Strategy() storage.Strategy { return storage.StrategyNativeUpsert }
func (f *fakeRepo) Close()                     {}

func (f *fakeRepo) EnsureTable(ctx context.Context, kind records.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, kind)
	return nil
}

func (f *fakeRepo) Upsert(ctx context.Context, kind records.Kind, recs []records.Record) (storage.LoadResult, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()

	if f.onUpsert != nil {
		f.onUpsert(call)
	}
	if err := f.failOn[call]; err != nil {
		return storage.LoadResult{}, err
	}

	unique, dups := storage.DedupeBatch(kind, recs)
	f.mu.Lock()
	f.batches = append(f.batches, unique)
	f.mu.Unlock()
	return storage.LoadResult{Inserted: len(unique), Duplicates: dups}, nil
}

func (f *fakeRepo) upserted() []records.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []records.Record
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func testConfig() config.Config {
	return config.Config{
		BatchSize:    1000,
		ErrorPreview: 100,
		Policy:       config.DefaultPolicy(),
	}
}

// writeListings writes a CSV with n sequential property rows.
func writeListings(t *testing.T, n int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("PostID,Price,City,PropertyType\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "L%04d,\"$%d\",Toronto,House\n", i, 400000+i)
	}
	path := filepath.Join(t.TempDir(), "listings.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestDryRunBatching(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{}
	im := New(repo, testConfig())

	sum, err := im.Import(context.Background(), Options{
		FilePath: writeListings(t, 2500),
		Kind:     records.KindProperty,
		DryRun:   true,
	})
	require.NoError(t, err)
	require.Equal(t, 2500, sum.TotalProcessed)
	require.Equal(t, 2500, sum.SuccessfulImports)
	require.Zero(t, sum.FailedImports)
	require.InDelta(t, 100.0, sum.SuccessRate, 0.001)
	require.True(t, sum.DryRun)
	require.Zero(t, repo.calls, "dry run must not touch storage")
	require.Equal(t, StateDone, im.State())
	require.NotEmpty(t, sum.OperationID)
}

func TestDryRunNeedsNoRepository(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AutoCreateTable = true
	im := New(nil, cfg)

	sum, err := im.Import(context.Background(), Options{
		FilePath: writeListings(t, 10),
		Kind:     records.KindProperty,
		DryRun:   true,
	})
	require.NoError(t, err)
	require.Equal(t, 10, sum.TotalProcessed)
	require.Equal(t, 10, sum.SuccessfulImports)
}

func TestRunDeregistersOperation(t *testing.T) {
	t.Parallel()
	im := New(&fakeRepo{}, testConfig())

	sum, err := im.Import(context.Background(), Options{
		FilePath: writeListings(t, 3),
		Kind:     records.KindProperty,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sum.OperationID)
	_, err = im.Tracker().GetProgress(sum.OperationID)
	require.Error(t, err, "finished runs must leave no tracker state behind")
}

func TestLoadRun(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{}
	im := New(repo, testConfig())

	sum, err := im.Import(context.Background(), Options{
		FilePath:  writeListings(t, 5),
		Kind:      records.KindProperty,
		BatchSize: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 5, sum.TotalProcessed)
	require.Equal(t, 5, sum.SuccessfulImports)
	require.Equal(t, 3, repo.calls) // batches of 2, 2, 1

	recs := repo.upserted()
	require.Len(t, recs, 5)
	first := recs[0]
	require.Equal(t, "L0000", first.Identifier(records.KindProperty))
	require.Equal(t, int64(400000), first["sold_price"])
	require.NotNil(t, first["ai_valuation"], "enrichment must run before persistence")
	require.NotNil(t, first[records.ColCreatedAt])
	require.Equal(t, first[records.ColCreatedAt], first[records.ColUpdatedAt])

	require.Contains(t, sum.Performance, "validate")
	require.Contains(t, sum.Performance, "transform")
	require.Contains(t, sum.Performance, "load")
}

func TestLoadContinuesPastInfraFailure(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{failOn: map[int]error{
		1: &storage.InfraError{Op: "begin", Err: fmt.Errorf("connection reset")},
	}}
	im := New(repo, testConfig())

	sum, err := im.Import(context.Background(), Options{
		FilePath:  writeListings(t, 5),
		Kind:      records.KindProperty,
		BatchSize: 2,
	})
	require.NoError(t, err, "a failed batch must not fail the run")
	require.Equal(t, 5, sum.TotalProcessed)
	require.Equal(t, 3, sum.SuccessfulImports)
	require.Equal(t, 2, sum.FailedImports)
	require.InDelta(t, 60.0, sum.SuccessRate, 0.001)

	var loadErrs int
	for _, e := range sum.Errors {
		if e.Stage == "load" {
			loadErrs++
			require.Contains(t, e.Messages[0], "connection reset")
		}
	}
	require.Equal(t, 1, loadErrs)
}

func TestInvalidRecordsCounted(t *testing.T) {
	t.Parallel()
	content := "PostID,Price\nA1,\"$650,000\"\n,\"$500,000\"\nA3,\"$700,000\"\n"
	path := filepath.Join(t.TempDir(), "mixed.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	repo := &fakeRepo{}
	im := New(repo, testConfig())
	sum, err := im.Import(context.Background(), Options{FilePath: path, Kind: records.KindProperty})
	require.NoError(t, err)
	require.Equal(t, 3, sum.TotalProcessed)
	require.Equal(t, 2, sum.SuccessfulImports)
	require.Equal(t, 1, sum.FailedImports)
	require.Equal(t, 1, sum.TotalErrors)
	require.Len(t, sum.Errors, 1)
	require.Equal(t, "validate", sum.Errors[0].Stage)
	require.Equal(t, 1, sum.Errors[0].Index)
}

func TestErrorPreviewCapped(t *testing.T) {
	t.Parallel()
	var sb strings.Builder
	sb.WriteString("PostID,Price\n")
	for i := 0; i < 10; i++ {
		sb.WriteString(",100\n") // every row lacks an identifier
	}
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	cfg := testConfig()
	cfg.ErrorPreview = 3
	im := New(&fakeRepo{}, cfg)
	sum, err := im.Import(context.Background(), Options{FilePath: path, Kind: records.KindProperty, DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 10, sum.FailedImports)
	require.Equal(t, 10, sum.TotalErrors)
	require.Len(t, sum.Errors, 3)
	require.Zero(t, sum.SuccessRate)
}

func TestCancellationAtBatchBoundary(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	repo := &fakeRepo{}
	repo.onUpsert = func(call int) {
		if call == 0 {
			cancel()
		}
	}
	im := New(repo, testConfig())

	sum, err := im.Import(ctx, Options{
		FilePath:  writeListings(t, 100),
		Kind:      records.KindProperty,
		BatchSize: 10,
	})
	require.NoError(t, err, "interruption is not a run error")
	require.True(t, sum.Interrupted)
	require.GreaterOrEqual(t, repo.calls, 1)
	require.Less(t, sum.TotalProcessed, 100, "run must stop before the end")
	require.GreaterOrEqual(t, sum.SuccessfulImports, 10, "the in-flight batch completes")
}

func TestCheckpointResume(t *testing.T) {
	t.Parallel()
	source := writeListings(t, 6)
	cpPath := filepath.Join(t.TempDir(), "import.checkpoint")

	fp, err := extract.Fingerprint(source)
	require.NoError(t, err)
	require.NoError(t, SaveCheckpoint(cpPath, Checkpoint{
		SourcePath:  source,
		Fingerprint: fp,
		RowsDone:    4,
	}))

	cfg := testConfig()
	cfg.CheckpointPath = cpPath
	repo := &fakeRepo{}
	im := New(repo, cfg)

	sum, err := im.Import(context.Background(), Options{
		FilePath:   source,
		Kind:       records.KindProperty,
		ResumeFrom: -1,
	})
	require.NoError(t, err)
	require.Equal(t, 4, sum.ResumedFrom)
	require.Equal(t, 2, sum.TotalProcessed)

	ids := make([]string, 0, 2)
	for _, r := range repo.upserted() {
		ids = append(ids, r.Identifier(records.KindProperty))
	}
	require.Equal(t, []string{"L0004", "L0005"}, ids)

	// a clean finish clears the checkpoint
	_, ok, err := LoadCheckpoint(cpPath)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckpointIgnoredOnHeaderChange(t *testing.T) {
	t.Parallel()
	source := writeListings(t, 3)
	cpPath := filepath.Join(t.TempDir(), "import.checkpoint")
	require.NoError(t, SaveCheckpoint(cpPath, Checkpoint{
		SourcePath:  source,
		Fingerprint: 12345, // does not match the real header
		RowsDone:    2,
	}))

	off, err := ResumeOffset(cpPath, source)
	require.NoError(t, err)
	require.Zero(t, off)
}

func TestImportSyncDryRun(t *testing.T) {
	t.Parallel()
	im := New(&fakeRepo{}, testConfig())
	sum, err := im.ImportSync(context.Background(), Options{
		FilePath:  writeListings(t, 30),
		Kind:      records.KindProperty,
		BatchSize: 7,
		DryRun:    true,
	})
	require.NoError(t, err)
	require.Equal(t, 30, sum.TotalProcessed)
	require.Equal(t, 30, sum.SuccessfulImports)
}

func TestUnsupportedSourcePropagates(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "data.parquet")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	im := New(&fakeRepo{}, testConfig())
	_, err := im.Import(context.Background(), Options{FilePath: path, Kind: records.KindProperty})
	var sf *extract.SourceFormatError
	require.ErrorAs(t, err, &sf)
}

func TestUnknownKindRejected(t *testing.T) {
	t.Parallel()
	im := New(&fakeRepo{}, testConfig())
	_, err := im.Import(context.Background(), Options{FilePath: "x.csv", Kind: "vehicle"})
	require.Error(t, err)
}

func TestUnknownLevelRejected(t *testing.T) {
	t.Parallel()
	im := New(&fakeRepo{}, testConfig())
	_, err := im.Import(context.Background(), Options{
		FilePath: writeListings(t, 1),
		Kind:     records.KindProperty,
		Level:    "paranoid",
	})
	require.Error(t, err)
}

func TestAutoCreateTable(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AutoCreateTable = true
	repo := &fakeRepo{}
	im := New(repo, cfg)
	_, err := im.Import(context.Background(), Options{
		FilePath: writeListings(t, 1),
		Kind:     records.KindProperty,
	})
	require.NoError(t, err)
	require.Equal(t, []records.Kind{records.KindProperty}, repo.ensured)
}

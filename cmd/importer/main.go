// main is the entry point for the importer binary. It parses flags, opens
// the configured storage backend, runs one import, and prints the run
// summary as JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EfeObus/NextProperty-sub002/internal/config"
	"github.com/EfeObus/NextProperty-sub002/internal/pipeline"
	"github.com/EfeObus/NextProperty-sub002/internal/records"
	"github.com/EfeObus/NextProperty-sub002/internal/storage"

	// register all backends with the storage factory.
	// config selects which one to use but every build carries all of them.
	_ "github.com/EfeObus/NextProperty-sub002/internal/storage/all"
)

func main() {
	cfg := config.Load()

	var (
		file       string
		dataType   string
		level      string
		batchSize  int
		resumeFrom int
		dryRun     bool
	)

	flag.StringVar(&file, "file", "", "source file to import (.csv, .tsv, .json)")
	flag.StringVar(&dataType, "type", "property", "data type: property, agent, economic")
	flag.StringVar(&level, "level", "standard", "validation level: minimal, standard, strict")
	flag.IntVar(&batchSize, "batch-size", cfg.BatchSize, "records per batch")
	flag.IntVar(&resumeFrom, "resume-from", 0, "data rows to skip; -1 resumes from the checkpoint")
	flag.BoolVar(&dryRun, "dry-run", false, "validate only, skip persistence")
	flag.StringVar(&cfg.StorageKind, "storage", cfg.StorageKind, "storage backend kind")
	flag.StringVar(&cfg.DSN, "dsn", cfg.DSN, "storage DSN (overrides env IMPORT_DSN)")
	flag.StringVar(&cfg.CheckpointPath, "checkpoint", cfg.CheckpointPath, "checkpoint file path; empty disables checkpoints")
	verbose := flag.Bool("v", false, "enable verbose logs")
	flag.Parse()

	if file == "" {
		fatalf("missing -file")
	}
	kind := records.Kind(dataType)
	if !kind.Valid() {
		fatalf("unknown -type %q (want property, agent, or economic)", dataType)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Dry runs validate only and never open a store.
	var repo storage.Repository
	if !dryRun {
		var err error
		repo, err = storage.New(ctx, storage.Config{Kind: cfg.StorageKind, DSN: cfg.DSN})
		if err != nil {
			fatalf("open storage: %v", err)
		}
		defer repo.Close()
	}

	if *verbose {
		log.Printf("import: file=%s type=%s level=%s storage=%s batch_size=%d dry_run=%v",
			file, kind, level, cfg.StorageKind, batchSize, dryRun)
	}

	start := time.Now()
	im := pipeline.New(repo, cfg)
	sum, err := im.Import(ctx, pipeline.Options{
		FilePath:   file,
		Kind:       kind,
		Level:      level,
		ResumeFrom: resumeFrom,
		DryRun:     dryRun,
		BatchSize:  batchSize,
	})
	if err != nil {
		log.Fatalf("%v", err)
	}

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	if sum.Interrupted {
		log.Printf("run interrupted; resume with -resume-from=-1")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		fatalf("encode summary: %v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

// Package config defines the runtime configuration for the import pipeline.
// It is intentionally small, explicit, and dependency-free so that a Config
// can be built from the environment (12-factor style) or assembled directly
// in tests without additional glue code.
//
// No third-party configuration library is used; decoding is performed by the
// standard library with small typed helpers.
package config

import (
	"os"
	"strconv"
)

// Config is the resolved configuration for a pipeline run.
type Config struct {
	// StorageKind selects the storage backend ("postgres", "mysql", "sqlite",
	// "mssql"). Backends register themselves with the storage factory.
	StorageKind string

	// DSN is the backend connection string, passed through verbatim.
	DSN string

	// BatchSize bounds how many records form one unit of transactional work
	// and of progress reporting.
	BatchSize int

	// ErrorPreview caps how many per-record errors the run summary retains.
	ErrorPreview int

	// CheckpointPath is where load-mode runs persist their resume checkpoint.
	// Empty disables checkpointing.
	CheckpointPath string

	// AutoCreateTable creates the target table on startup when the backend
	// supports DDL bootstrap.
	AutoCreateTable bool

	Policy Policy
}

// Policy holds validation heuristics that are site policy rather than fixed
// law: the thresholds are defaults for Canadian-dollar residential data and
// do not generalize to other currencies or regions.
type Policy struct {
	// StrictPriceFloor rejects prices below this value at strict level.
	StrictPriceFloor int64

	// SqftMin/SqftMax bound the plausible interior size window; values
	// outside it are discarded with a warning, never clamped.
	SqftMin float64
	SqftMax float64
}

// DefaultPolicy returns the built-in validation policy.
func DefaultPolicy() Policy {
	return Policy{
		StrictPriceFloor: 10_000,
		SqftMin:          100,
		SqftMax:          50_000,
	}
}

// Load resolves the configuration from environment variables, falling back
// to defaults suitable for local development against SQLite.
func Load() Config {
	return Config{
		StorageKind:     getenv("IMPORT_STORAGE_KIND", "sqlite"),
		DSN:             getenv("IMPORT_DSN", "file:listings.db?cache=shared"),
		BatchSize:       getenvInt("IMPORT_BATCH_SIZE", 1000),
		ErrorPreview:    getenvInt("IMPORT_ERROR_PREVIEW", 100),
		CheckpointPath:  getenv("IMPORT_CHECKPOINT", ""),
		AutoCreateTable: getenvBool("IMPORT_AUTO_CREATE_TABLE", false),
		Policy: Policy{
			StrictPriceFloor: int64(getenvInt("IMPORT_PRICE_FLOOR", 10_000)),
			SqftMin:          getenvFloat("IMPORT_SQFT_MIN", 100),
			SqftMax:          getenvFloat("IMPORT_SQFT_MAX", 50_000),
		},
	}
}

func getenv(k, def string) string {
	if s := os.Getenv(k); s != "" {
		return s
	}
	return def
}

// getenvInt reads an int from the environment, returning def when unset or
// invalid.
func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(k string, def float64) float64 {
	if s := os.Getenv(k); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(k string, def bool) bool {
	if s := os.Getenv(k); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return def
}

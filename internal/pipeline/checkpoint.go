package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/EfeObus/NextProperty-sub002/internal/extract"
)

// Checkpoint records how far a load run got through a source file. It is
// written after every persisted batch so an interrupted run can resume
// without re-inserting rows it already committed.
type Checkpoint struct {
	SourcePath  string `json:"source_path"`
	Fingerprint uint64 `json:"fingerprint"`
	RowsDone    int    `json:"rows_done"`
	Inserted    int    `json:"inserted"`
	Updated     int    `json:"updated"`
	Failed      int    `json:"failed"`
}

// SaveCheckpoint writes cp to path atomically (temp file plus rename).
func SaveCheckpoint(path string, cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint rename: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint file. A missing file is not an error;
// it returns ok=false.
func LoadCheckpoint(path string) (Checkpoint, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint read: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint decode: %w", err)
	}
	return cp, true, nil
}

// ClearCheckpoint removes the checkpoint file if present.
func ClearCheckpoint(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ResumeOffset derives a safe resume offset for source from the checkpoint
// at path. It returns 0 when no checkpoint exists or when the checkpoint
// belongs to a different file or a changed header, since a stale offset
// would skip the wrong rows.
func ResumeOffset(path, source string) (int, error) {
	cp, ok, err := LoadCheckpoint(path)
	if err != nil || !ok {
		return 0, err
	}
	if cp.SourcePath != source {
		return 0, nil
	}
	fp, err := extract.Fingerprint(source)
	if err != nil {
		return 0, fmt.Errorf("checkpoint fingerprint: %w", err)
	}
	if fp != cp.Fingerprint {
		return 0, nil
	}
	return cp.RowsDone, nil
}

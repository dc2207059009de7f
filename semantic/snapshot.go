package semantic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sightserver/querycache/internal/atomicfile"
)

const snapshotVersion = 1

type snapshot struct {
	Version int       `json:"version"`
	Model   string    `json:"model"`
	Dim     int       `json:"dim"`
	SavedAt time.Time `json:"saved_at"`
	Records []Record  `json:"records"`
}

// SaveSnapshot writes every record to path atomically, tagged with the
// embedder's model name.
func (ix *Index) SaveSnapshot(path string) error {
	data, err := json.Marshal(snapshot{
		Version: snapshotVersion,
		Model:   ix.Model(),
		Dim:     ix.Dim(),
		SavedAt: time.Now().UTC(),
		Records: ix.Records(),
	})
	if err != nil {
		return fmt.Errorf("semantic: encode snapshot: %w", err)
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return fmt.Errorf("semantic: write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot reads records saved under model. A missing file yields no
// records and no error.
func ReadSnapshot(path, model string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("semantic: read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if snap.Model != model {
		return nil, fmt.Errorf("%w: snapshot %q, embedder %q", ErrModelMismatch, snap.Model, model)
	}
	return snap.Records, nil
}

// LoadSnapshot restores records from path. Returns how many were restored.
func (ix *Index) LoadSnapshot(path string) (int, error) {
	recs, err := ReadSnapshot(path, ix.Model())
	if err != nil {
		return 0, err
	}
	return ix.Restore(recs), nil
}

package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	eio "github.com/sawpanic/equityrun/internal/io"
)

// FileStore persists the snapshot as a single JSON document, written with
// temp-file + rename so a crash mid-write leaves the previous snapshot
// intact.
type FileStore struct {
	path       string
	capitalUSD float64
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string, capitalUSD float64) *FileStore {
	return &FileStore{path: path, capitalUSD: capitalUSD}
}

func (f *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	b, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		log.Info().Str("path", f.path).Msg("no persisted state, starting empty")
		return NewSnapshot(f.capitalUSD), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, f.path, err)
	}
	snap.normalize(f.capitalUSD)

	log.Info().
		Str("path", f.path).
		Int("open_positions", len(snap.Positions)).
		Time("last_saved", snap.LastSaved).
		Msg("state restored")
	return &snap, nil
}

func (f *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	snap.Version = snapshotVersion
	snap.LastSaved = time.Now().UTC()
	if err := eio.WriteJSONAtomic(f.path, snap); err != nil {
		return fmt.Errorf("save state file: %w", err)
	}
	return nil
}

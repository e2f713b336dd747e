package recorder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/enricmcalvo/UUTrap/internal/container"
	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// SnapshotDataset is the dataset name of single-shot saves.
const SnapshotDataset = "image"

// UniquePath returns dir/base_N+ext for the smallest N >= 1 that does not exist.
func UniquePath(dir, base, ext string) (string, error) {
	for n := 1; ; n++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, n, ext))
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", err
		}
	}
}

// SaveSnapshot writes frame to a new container in dir named after base and
// returns its path. Existing files are never overwritten.
func SaveSnapshot(dir, base string, frame *types.Frame, meta container.Metadata) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	meta.Dataset = SnapshotDataset
	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}

	for {
		path, err := UniquePath(dir, base, container.Ext)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrPersistence, err)
		}

		w, err := container.Create(path, meta)
		if errors.Is(err, fs.ErrExist) {
			// Taken between the Stat and the create.
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrPersistence, err)
		}

		err = w.Append(frame)
		if err == nil {
			err = w.Finalize()
		}
		if err != nil {
			// A partial file would hold the number without a usable photo.
			w.Close()
			os.Remove(path)
			return "", fmt.Errorf("%w: %s: %w", ErrPersistence, path, err)
		}
		return path, nil
	}
}

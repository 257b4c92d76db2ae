package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// LocalStorage reads objects from the local filesystem.
type LocalStorage struct{}

// OpenDownload opens the file at path for reading.
func (LocalStorage) OpenDownload(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("opening %q: %w", path, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	return f, nil
}

package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageOpenDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "object.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	rc, err := LocalStorage{}.OpenDownload(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))
}

func TestLocalStorageOpenDownload_NotFound(t *testing.T) {
	_, err := LocalStorage{}.OpenDownload(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorageOpenDownload_CanceledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "object.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LocalStorage{}.OpenDownload(ctx, path)
	require.ErrorIs(t, err, context.Canceled)
}

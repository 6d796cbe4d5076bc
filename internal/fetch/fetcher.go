package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Fetcher opens a remote file for reading. Implementations wrap whatever
// transport the deployment uses.
type Fetcher interface {
	// Open returns a reader for the remote path and the total size in bytes
	// (-1 when unknown).
	Open(ctx context.Context, remotePath string) (io.ReadCloser, int64, error)
}

// FilesystemFetcher serves files from a locally reachable path, covering
// mounted shares and tests.
type FilesystemFetcher struct {
	// Root, when set, is prepended to relative remote paths.
	Root string
}

// Open implements Fetcher.
func (f *FilesystemFetcher) Open(_ context.Context, remotePath string) (io.ReadCloser, int64, error) {
	if remotePath == "" {
		return nil, 0, fmt.Errorf("open source file: empty path")
	}
	path := remotePath
	if f.Root != "" && !os.IsPathSeparator(path[0]) {
		path = f.Root + string(os.PathSeparator) + path
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open source file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, 0, fmt.Errorf("stat source file: %w", err)
	}
	return file, info.Size(), nil
}

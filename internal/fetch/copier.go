package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/workers"
)

const copyChunkSize = 4 << 20

// Copier is the copy stage handler.
type Copier struct {
	cfg     *config.Config
	fetcher Fetcher
	logger  *slog.Logger
}

// NewCopier builds the copy handler around an injected fetcher.
func NewCopier(cfg *config.Config, fetcher Fetcher, logger *slog.Logger) *Copier {
	return &Copier{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logging.NewComponentLogger(logger, "copier"),
	}
}

// Kind implements workers.Handler.
func (c *Copier) Kind() queue.Kind { return queue.KindCopy }

// Execute streams the remote file into staging. The whole transfer is a safe
// point: on cancellation the partial download is removed and the file rolls
// back to its queued checkpoint, so a later copy starts clean.
func (c *Copier) Execute(ctx context.Context, task *workers.Task) error {
	file := task.File
	if file.RemotePath == "" {
		return services.Wrap(services.ErrValidation, "copy", "validate", "file has no remote path", nil)
	}

	if err := task.SetCancellable(ctx, true); err != nil {
		return err
	}
	defer func() { _ = task.SetCancellable(ctx, false) }()

	reader, totalBytes, err := c.fetcher.Open(ctx, file.RemotePath)
	if err != nil {
		return services.Wrap(services.ErrTransient, "copy", "open", file.RemotePath, err)
	}
	defer reader.Close()

	destination := filepath.Join(c.cfg.StagingDir, fmt.Sprintf("%d_%s", file.ID, filepath.Base(file.RemotePath)))
	out, err := os.Create(destination)
	if err != nil {
		return services.Wrap(services.ErrTransient, "copy", "create", destination, err)
	}

	cleanup := func() {
		_ = out.Close()
		_ = os.Remove(destination)
	}

	_ = task.Progress(ctx, 0, "Copying")
	var copied int64
	buf := make([]byte, copyChunkSize)
	for {
		cancelled, cancelErr := task.Cancelled(ctx)
		if cancelErr != nil {
			cleanup()
			return cancelErr
		}
		if cancelled {
			cleanup()
			c.logger.Info("copy cancelled, partial download removed",
				logging.Int64(logging.FieldFileID, file.ID),
			)
			return workers.ErrCancelled
		}

		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				cleanup()
				return services.Wrap(services.ErrTransient, "copy", "write", destination, writeErr)
			}
			copied += int64(n)
			if totalBytes > 0 {
				_ = task.Progress(ctx, float64(copied)/float64(totalBytes)*100, "Copying")
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			return services.Wrap(services.ErrTransient, "copy", "read", file.RemotePath, readErr)
		}
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(destination)
		return services.Wrap(services.ErrTransient, "copy", "close", destination, err)
	}

	file.LocalPath = destination
	if err := task.SaveFile(ctx); err != nil {
		return err
	}
	_ = task.Progress(ctx, 100, "Copied")
	return nil
}

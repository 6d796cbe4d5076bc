package organizer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/workers"
)

// Organizer is the organize stage handler.
type Organizer struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New builds the organize handler.
func New(cfg *config.Config, logger *slog.Logger) *Organizer {
	return &Organizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "organizer"),
	}
}

// Kind implements workers.Handler.
func (o *Organizer) Kind() queue.Kind { return queue.KindOrganize }

// Execute places the processed artifact into the library and cleans the
// staging copy. The move is copy-then-delete so a failure partway through
// never loses the source.
func (o *Organizer) Execute(ctx context.Context, task *workers.Task) error {
	logger := logging.WithContext(ctx, o.logger)
	file := task.File

	source := strings.TrimSpace(file.ProcessedPath)
	if source == "" {
		return services.Wrap(services.ErrValidation, "organize", "validate input", "file has no processed artifact", nil)
	}
	if _, err := os.Stat(source); err != nil {
		if isLibraryUnavailable(err) {
			return services.Wrap(services.ErrTransient, "organize", "stat source", source, err)
		}
		return services.Wrap(services.ErrValidation, "organize", "stat source", source, err)
	}

	if cancelled, err := task.Cancelled(ctx); err != nil {
		return err
	} else if cancelled {
		return workers.ErrCancelled
	}

	_ = task.Progress(ctx, 0, "Organizing")

	destination, err := o.resolveDestination(file)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		if isLibraryUnavailable(err) {
			return services.Wrap(services.ErrTransient, "organize", "prepare library", filepath.Dir(destination), err)
		}
		return services.Wrap(services.ErrExternalTool, "organize", "prepare library", filepath.Dir(destination), err)
	}

	if err := copyFile(source, destination); err != nil {
		_ = os.Remove(destination)
		if isLibraryUnavailable(err) {
			return services.Wrap(services.ErrTransient, "organize", "copy to library", destination, err)
		}
		return services.Wrap(services.ErrExternalTool, "organize", "copy to library", destination, err)
	}
	_ = task.Progress(ctx, 80, "Verified library copy")

	if err := os.Remove(source); err != nil {
		logger.Warn("failed to remove processed artifact after organize",
			logging.String("path", source),
			logging.Error(err),
		)
	}
	o.cleanupStaging(logger, file)

	file.FinalPath = destination
	if err := task.SaveFile(ctx); err != nil {
		return err
	}
	_ = task.Progress(ctx, 100, "Organized")
	logger.Info("file organized",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("final_path", destination),
	)
	return nil
}

// resolveDestination computes the library path for a file, suffixing the stem
// until the name does not collide with an existing library entry.
func (o *Organizer) resolveDestination(file *queue.File) (string, error) {
	base := filepath.Base(file.ProcessedPath)
	ext := filepath.Ext(base)
	stem := sanitizeSlug(strings.TrimSuffix(base, ext), 0)
	if stem == "" {
		stem = fmt.Sprintf("file-%d", file.ID)
	}

	for attempt := 0; attempt < maxCollisionSuffix; attempt++ {
		name := stem + ext
		if attempt > 0 {
			name = fmt.Sprintf("%s-%d%s", stem, attempt+1, ext)
		}
		candidate := filepath.Join(o.cfg.LibraryDir, name)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", services.Wrap(services.ErrExternalTool, "organize", "probe library", candidate, err)
		}
	}
	return "", services.Wrap(services.ErrValidation, "organize", "resolve destination",
		fmt.Sprintf("too many library collisions for %q", stem), nil)
}

// cleanupStaging removes the staged copy once the artifact reached the
// library. Leftovers are logged, not fatal.
func (o *Organizer) cleanupStaging(logger *slog.Logger, file *queue.File) {
	local := strings.TrimSpace(file.LocalPath)
	if local == "" {
		return
	}
	if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to clean staging copy; leftover file remains",
			logging.String("path", local),
			logging.Error(err),
		)
		return
	}
	file.LocalPath = ""
}

const maxCollisionSuffix = 100

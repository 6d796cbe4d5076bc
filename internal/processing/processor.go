package processing

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/workers"
)

// Processor is the process stage handler.
type Processor struct {
	cfg    *config.Config
	logger *slog.Logger

	// runCommand is swapped in tests to avoid invoking a real transcoder.
	runCommand func(ctx context.Context, bin string, args []string) error
}

// NewProcessor builds the process handler.
func NewProcessor(cfg *config.Config, logger *slog.Logger) *Processor {
	p := &Processor{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "processor"),
	}
	p.runCommand = p.execCommand
	return p
}

// Kind implements workers.Handler.
func (p *Processor) Kind() queue.Kind { return queue.KindProcess }

// Execute transcodes the staged file into the processed directory.
func (p *Processor) Execute(ctx context.Context, task *workers.Task) error {
	file := task.File
	if file.LocalPath == "" {
		return services.Wrap(services.ErrValidation, "process", "validate", "file has not been copied", nil)
	}
	if _, err := os.Stat(file.LocalPath); err != nil {
		return services.Wrap(services.ErrTransient, "process", "stat input", file.LocalPath, err)
	}

	if err := task.SetCancellable(ctx, true); err != nil {
		return err
	}
	defer func() { _ = task.SetCancellable(ctx, false) }()

	// Boundary safe point: bail out before committing the accelerator-less
	// but expensive transcode.
	if cancelled, err := task.Cancelled(ctx); err != nil {
		return err
	} else if cancelled {
		return workers.ErrCancelled
	}

	destination := filepath.Join(p.cfg.ProcessedDir, filepath.Base(file.LocalPath))
	args := buildArgs(file.LocalPath, destination, p.cfg.Processing.ExtraArgs)

	_ = task.Progress(ctx, 0, "Processing")
	p.logger.Info("transcoder started",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("bin", p.cfg.Processing.TranscoderBin),
	)

	runCtx := ctx
	if timeout := time.Duration(p.cfg.Processing.TimeoutSeconds) * time.Second; timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := p.runCommand(runCtx, p.cfg.Processing.TranscoderBin, args); err != nil {
		_ = os.Remove(destination)
		return err
	}

	// A cancellation that arrived mid-transcode is honored here: the output
	// is discarded and the file rolls back to its copied checkpoint.
	if cancelled, err := task.Cancelled(ctx); err != nil {
		return err
	} else if cancelled {
		_ = os.Remove(destination)
		p.logger.Info("transcode cancelled, output discarded",
			logging.Int64(logging.FieldFileID, file.ID),
		)
		return workers.ErrCancelled
	}

	file.ProcessedPath = destination
	if err := task.SaveFile(ctx); err != nil {
		return err
	}
	_ = task.Progress(ctx, 100, "Processed")
	return nil
}

func buildArgs(input, output string, extra []string) []string {
	args := []string{"-y", "-i", input}
	args = append(args, extra...)
	args = append(args, output)
	return args
}

func (p *Processor) execCommand(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return services.Wrap(services.ErrTimeout, "process", "transcode", "transcoder timed out", ctx.Err())
		}
		detail := strings.TrimSpace(tailLines(stderr.String(), 3))
		return services.Wrap(services.ErrExternalTool, "process", "transcode", detail, err)
	}
	return nil
}

// tailLines keeps the last n lines of tool output; that is where transcoders
// put the actual error.
func tailLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) <= n {
		return strings.Join(lines, " | ")
	}
	return strings.Join(lines[len(lines)-n:], " | ")
}

package transcribe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"conveyor/internal/config"
	"conveyor/internal/gpu"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/workers"
)

// SidecarSuffix is appended to the organized file path to name its
// transcript.
const SidecarSuffix = ".transcript.txt"

// SidecarPath returns the transcript path for an organized file.
func SidecarPath(finalPath string) string {
	return finalPath + SidecarSuffix
}

// Transcriber is the transcribe stage handler.
type Transcriber struct {
	cfg    *config.Config
	gate   *gpu.Gate
	logger *slog.Logger

	runCommand func(ctx context.Context, bin string, args []string) error
}

// New builds the transcribe handler.
func New(cfg *config.Config, gate *gpu.Gate, logger *slog.Logger) *Transcriber {
	t := &Transcriber{
		cfg:    cfg,
		gate:   gate,
		logger: logging.NewComponentLogger(logger, "transcriber"),
	}
	t.runCommand = t.execCommand
	return t
}

// Kind implements workers.Handler.
func (t *Transcriber) Kind() queue.Kind { return queue.KindTranscribe }

// Execute produces a transcript sidecar for the organized file. The
// accelerator slot is held for the duration of the external run.
func (t *Transcriber) Execute(ctx context.Context, task *workers.Task) error {
	file := task.File
	if file.FinalPath == "" {
		return services.Wrap(services.ErrValidation, "transcribe", "validate input", "file has not been organized", nil)
	}
	if _, err := os.Stat(file.FinalPath); err != nil {
		return services.Wrap(services.ErrTransient, "transcribe", "stat input", file.FinalPath, err)
	}

	if err := task.SetCancellable(ctx, true); err != nil {
		return err
	}
	defer func() { _ = task.SetCancellable(ctx, false) }()

	if cancelled, err := task.Cancelled(ctx); err != nil {
		return err
	} else if cancelled {
		return workers.ErrCancelled
	}

	_ = task.Progress(ctx, 0, "Waiting for accelerator")
	if err := t.gate.Acquire(ctx); err != nil {
		if errors.Is(err, gpu.ErrShuttingDown) || errors.Is(err, context.Canceled) {
			return err
		}
		return services.Wrap(services.ErrTransient, "transcribe", "acquire accelerator", "", err)
	}
	defer t.gate.Release()

	// The wait for the slot can be long; honor a cancellation that arrived
	// while queued before spending accelerator time.
	if cancelled, err := task.Cancelled(ctx); err != nil {
		return err
	} else if cancelled {
		return workers.ErrCancelled
	}

	sidecar := SidecarPath(file.FinalPath)
	args := []string{file.FinalPath, "--output", sidecar}
	if model := strings.TrimSpace(t.cfg.Transcription.Model); model != "" {
		args = append(args, "--model", model)
	}

	_ = task.Progress(ctx, 10, "Transcribing")
	t.logger.Info("transcriber started",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("bin", t.cfg.Transcription.TranscriberBin),
	)

	if err := t.runCommand(ctx, t.cfg.Transcription.TranscriberBin, args); err != nil {
		_ = os.Remove(sidecar)
		return err
	}
	if info, err := os.Stat(sidecar); err != nil || info.Size() == 0 {
		_ = os.Remove(sidecar)
		return services.Wrap(services.ErrExternalTool, "transcribe", "validate output",
			"transcriber produced no transcript", err)
	}

	// Honor a cancellation that arrived during the run; the transcript is
	// removed so a retried job starts clean.
	if cancelled, err := task.Cancelled(ctx); err != nil {
		return err
	} else if cancelled {
		_ = os.Remove(sidecar)
		return workers.ErrCancelled
	}

	_ = task.Progress(ctx, 100, "Transcribed")
	return nil
}

func (t *Transcriber) execCommand(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 300 {
			detail = detail[len(detail)-300:]
		}
		return services.Wrap(services.ErrExternalTool, "transcribe", "run transcriber", detail, err)
	}
	return nil
}

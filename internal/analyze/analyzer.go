package analyze

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"conveyor/internal/config"
	"conveyor/internal/gpu"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/transcribe"
	"conveyor/internal/workers"
)

// SidecarSuffix names the summary file written next to the organized file.
const SidecarSuffix = ".summary.txt"

// SidecarPath returns the summary path for an organized file.
func SidecarPath(finalPath string) string {
	return finalPath + SidecarSuffix
}

// Summarizer produces a summary from a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Analyzer is the analyze stage handler.
type Analyzer struct {
	cfg        *config.Config
	gate       *gpu.Gate
	summarizer Summarizer
	logger     *slog.Logger
}

// New builds the analyze handler.
func New(cfg *config.Config, gate *gpu.Gate, summarizer Summarizer, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		cfg:        cfg,
		gate:       gate,
		summarizer: summarizer,
		logger:     logging.NewComponentLogger(logger, "analyzer"),
	}
}

// Kind implements workers.Handler.
func (a *Analyzer) Kind() queue.Kind { return queue.KindAnalyze }

// Execute summarizes the transcript sidecar into a summary sidecar.
func (a *Analyzer) Execute(ctx context.Context, task *workers.Task) error {
	file := task.File
	if file.FinalPath == "" {
		return services.Wrap(services.ErrValidation, "analyze", "validate input", "file has not been organized", nil)
	}
	transcriptPath := transcribe.SidecarPath(file.FinalPath)
	transcript, err := os.ReadFile(transcriptPath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "analyze", "read transcript", transcriptPath, err)
	}
	if len(transcript) == 0 {
		return services.Wrap(services.ErrValidation, "analyze", "read transcript", "transcript is empty", nil)
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
	if err := a.gate.Acquire(ctx); err != nil {
		if errors.Is(err, gpu.ErrShuttingDown) || errors.Is(err, context.Canceled) {
			return err
		}
		return services.Wrap(services.ErrTransient, "analyze", "acquire accelerator", "", err)
	}
	defer a.gate.Release()

	if cancelled, err := task.Cancelled(ctx); err != nil {
		return err
	} else if cancelled {
		return workers.ErrCancelled
	}

	_ = task.Progress(ctx, 10, "Summarizing")
	summary, err := a.summarizer.Summarize(ctx, string(transcript))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return services.Wrap(services.ErrExternalTool, "analyze", "summarize", "", err)
	}

	// A cancellation that arrived during the summarizer call is honored
	// before any output is written.
	if cancelled, err := task.Cancelled(ctx); err != nil {
		return err
	} else if cancelled {
		return workers.ErrCancelled
	}

	sidecar := SidecarPath(file.FinalPath)
	if err := os.WriteFile(sidecar, []byte(summary+"\n"), 0o644); err != nil {
		return services.Wrap(services.ErrExternalTool, "analyze", "write summary", sidecar, err)
	}

	_ = task.Progress(ctx, 100, "Analyzed")
	a.logger.Info("file analyzed",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("summary_path", sidecar),
	)
	return nil
}

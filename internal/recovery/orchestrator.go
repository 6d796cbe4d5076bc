package recovery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/failures"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
)

// Orchestrator rescans backoff-expired failed files and feeds them back into
// the pipeline.
type Orchestrator struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	sink   notifications.Service
	now    func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a recovery orchestrator.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, sink notifications.Service) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if sink == nil {
		sink = notifications.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "recovery"),
		sink:   sink,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start begins periodic background ticks.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.New("recovery orchestrator already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.wg.Add(1)

	interval := time.Duration(o.cfg.Pipeline.RecoveryTickSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := o.Tick(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					o.logger.Error("recovery tick failed",
						logging.String(logging.FieldEventType, "recovery_tick_failed"),
						logging.String(logging.FieldErrorHint, "check queue database access"),
						logging.Error(err),
					)
				}
			}
		}
	}()
	return nil
}

// Stop terminates background ticking and waits for the loop to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
}

// Tick performs one recovery pass. Exported so an external trigger can drive
// recovery without the internal ticker.
func (o *Orchestrator) Tick(ctx context.Context) error {
	candidates, err := o.store.RecoveryCandidates(ctx, o.now())
	if err != nil {
		return err
	}

	for _, file := range candidates {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := o.recoverFile(ctx, file); err != nil {
			o.logger.Error("recover file failed",
				logging.Int64(logging.FieldFileID, file.ID),
				logging.Error(err),
			)
		}
	}
	return nil
}

func (o *Orchestrator) recoverFile(ctx context.Context, file *queue.File) error {
	attempts := file.RecoveryAttempts + 1
	if attempts > o.cfg.Pipeline.MaxRecoveryAttempts {
		if err := o.store.MarkManualRetry(ctx, file.ID, file.RecoveryAttempts); err != nil {
			return err
		}
		o.logger.Warn("recovery ceiling reached, manual retry required",
			logging.Int64(logging.FieldFileID, file.ID),
			logging.Int("recovery_attempts", file.RecoveryAttempts),
			logging.String("failure_category", file.FailureCategory),
			logging.String(logging.FieldEventType, "manual_retry_required"),
		)
		o.emit(ctx, notifications.Event{
			Type:            notifications.EventManualRetry,
			FileID:          file.ID,
			Kind:            string(file.FailureJobKind),
			FailureCategory: file.FailureCategory,
		})
		return nil
	}

	kind := file.FailureJobKind
	if kind == "" {
		kind = queue.KindCopy
	}
	checkpoint := queue.PreconditionState(kind)

	// Failures that point at a missing artifact get their input re-verified;
	// if the artifact is gone the file restarts from the copy checkpoint so
	// the pipeline can rebuild it.
	if category, ok := failures.ParseCategory(file.FailureCategory); ok && category.RequiresPathValidation() {
		if !o.artifactPresent(file, kind) {
			kind = queue.KindCopy
			checkpoint = queue.PreconditionState(kind)
		}
	}

	job, err := o.store.RequeueFailed(ctx, file.ID, kind, checkpoint, attempts, file.Priority, o.cfg.Pipeline.JobMaxRetries)
	if err != nil {
		return err
	}

	o.logger.Info("file re-queued for recovery",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldKind, string(kind)),
		logging.Int("recovery_attempts", attempts),
		logging.String("checkpoint", string(checkpoint)),
	)
	o.emit(ctx, notifications.Event{
		Type:      notifications.EventRecoveryRequeue,
		FileID:    file.ID,
		JobID:     job.ID,
		Kind:      string(kind),
		FileState: string(checkpoint),
	})
	return nil
}

// artifactPresent checks the on-disk input a kind depends on.
func (o *Orchestrator) artifactPresent(file *queue.File, kind queue.Kind) bool {
	var path string
	switch kind {
	case queue.KindCopy:
		return true
	case queue.KindProcess:
		path = file.LocalPath
	default:
		path = file.ProcessedPath
		if path == "" {
			path = file.LocalPath
		}
	}
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func (o *Orchestrator) emit(ctx context.Context, event notifications.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = o.now()
	}
	if err := o.sink.Notify(ctx, event); err != nil {
		o.logger.Debug("event delivery failed",
			logging.String("event", string(event.Type)),
			logging.Error(err),
		)
	}
}

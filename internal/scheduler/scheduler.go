package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/failures"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
)

// Scheduler coordinates job creation, claiming, completion, failure, and
// cancellation against the queue store.
type Scheduler struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	sink   notifications.Service
}

// New constructs a scheduler. A nil sink drops events; a nil logger is
// replaced with a no-op.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, sink notifications.Service) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if sink == nil {
		sink = notifications.NewNop()
	}
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "scheduler"),
		sink:   sink,
	}
}

// Store exposes the underlying store for read-only collaborators (CLI, daemon
// health).
func (s *Scheduler) Store() *queue.Store { return s.store }

// Ingest registers a discovered file and queues its first copy job. Discovery
// itself is external; this is the hand-off point.
func (s *Scheduler) Ingest(ctx context.Context, remotePath, sessionID string, priority int, isProgramOutput bool, parentFileID *int64) (*queue.File, *queue.Job, error) {
	file, err := s.store.NewFile(ctx, remotePath, sessionID, priority, isProgramOutput, parentFileID)
	if err != nil {
		return nil, nil, err
	}
	s.emit(ctx, notifications.Event{
		Type:      notifications.EventFileDiscovered,
		FileID:    file.ID,
		FileState: string(file.State),
		Message:   remotePath,
	})

	if err := s.store.TransitionFile(ctx, file.ID, queue.StateDiscovered, queue.StateQueued); err != nil {
		return nil, nil, err
	}
	file.State = queue.StateQueued
	s.emit(ctx, notifications.Event{
		Type:      notifications.EventFileQueued,
		FileID:    file.ID,
		FileState: string(file.State),
	})

	job, err := s.Enqueue(ctx, file, queue.KindCopy, priority)
	if err != nil {
		return nil, nil, err
	}
	return file, job, nil
}

// Enqueue creates a queued job of the given kind for a file. The file must sit
// at the kind's precondition state, and no active job for the same (file,
// kind) may exist.
func (s *Scheduler) Enqueue(ctx context.Context, file *queue.File, kind queue.Kind, priority int) (*queue.Job, error) {
	if file == nil {
		return nil, fmt.Errorf("file is required: %w", queue.ErrInvalidOperation)
	}
	precondition := queue.PreconditionState(kind)
	if file.State != precondition {
		return nil, fmt.Errorf("enqueue %s requires file state %s, have %s: %w",
			kind, precondition, file.State, queue.ErrInvalidOperation)
	}

	job, err := s.store.InsertJob(ctx, file.ID, kind, priority, s.cfg.Pipeline.JobMaxRetries)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job enqueued",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldKind, string(kind)),
		logging.Int("priority", priority),
	)
	s.emit(ctx, notifications.Event{
		Type:     notifications.EventJobEnqueued,
		FileID:   file.ID,
		JobID:    job.ID,
		Kind:     string(kind),
		JobState: string(job.State),
	})
	return job, nil
}

// MaxConcurrency returns the dispatch ceiling for a kind. Pool sizes double
// as per-kind concurrency limits; the accelerator gate further serializes
// transcribe and analyze at execution time.
func (s *Scheduler) MaxConcurrency(kind queue.Kind) int {
	return s.cfg.Pipeline.WorkerCount(string(kind))
}

// ClaimNext atomically claims the next ready job of a kind, or returns nil
// when the queue is empty or the kind is at its concurrency limit. The limit
// is enforced inside the claim transaction, so it holds even across racing
// claimers.
func (s *Scheduler) ClaimNext(ctx context.Context, kind queue.Kind) (*queue.Job, error) {
	job, err := s.store.ClaimNext(ctx, kind, s.MaxConcurrency(kind))
	if err != nil || job == nil {
		return nil, err
	}
	s.logger.Debug("job claimed",
		logging.Int64(logging.FieldFileID, job.FileID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldKind, string(kind)),
	)
	s.emit(ctx, notifications.Event{
		Type:     notifications.EventJobClaimed,
		FileID:   job.FileID,
		JobID:    job.ID,
		Kind:     string(kind),
		JobState: string(job.State),
	})
	return job, nil
}

// ReportProgress records progress for a running job and relays it to the
// sink. No state changes.
func (s *Scheduler) ReportProgress(ctx context.Context, job *queue.Job, percent float64, stage string) error {
	if job == nil {
		return fmt.Errorf("job is required: %w", queue.ErrInvalidOperation)
	}
	if err := s.store.UpdateJobProgress(ctx, job.ID, percent, stage); err != nil {
		return err
	}
	job.ProgressPercent = percent
	job.ProgressStage = stage
	s.emit(ctx, notifications.Event{
		Type:    notifications.EventJobProgress,
		FileID:  job.FileID,
		JobID:   job.ID,
		Kind:    string(job.Kind),
		Message: stage,
	})
	return nil
}

// Complete marks a job done, advances the file, and queues the next kind in
// the sequence when there is one.
func (s *Scheduler) Complete(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return fmt.Errorf("job is required: %w", queue.ErrInvalidOperation)
	}
	file, err := s.store.FileByID(ctx, job.FileID)
	if err != nil {
		return err
	}

	fileTo, next := s.advanceAfter(job, file)
	nextJob, err := s.store.CompleteJob(ctx, job.ID, fileTo, next)
	if err != nil {
		return err
	}

	s.logger.Info("job completed",
		logging.Int64(logging.FieldFileID, job.FileID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldKind, string(job.Kind)),
		logging.String("file_state", string(fileTo)),
	)
	s.emit(ctx, notifications.Event{
		Type:      notifications.EventJobCompleted,
		FileID:    job.FileID,
		JobID:     job.ID,
		Kind:      string(job.Kind),
		FileState: string(fileTo),
		JobState:  string(queue.JobDone),
	})
	if nextJob != nil {
		s.emit(ctx, notifications.Event{
			Type:     notifications.EventJobEnqueued,
			FileID:   nextJob.FileID,
			JobID:    nextJob.ID,
			Kind:     string(nextJob.Kind),
			JobState: string(nextJob.State),
		})
	}
	if fileTo == queue.StateCompleted {
		s.emit(ctx, notifications.Event{
			Type:      notifications.EventFileCompleted,
			FileID:    job.FileID,
			FileState: string(queue.StateCompleted),
		})
	}
	return nil
}

// advanceAfter resolves the file state after a kind finishes and the
// follow-up enqueue, if any.
func (s *Scheduler) advanceAfter(job *queue.Job, file *queue.File) (queue.FileState, *queue.NextEnqueue) {
	withTail := s.transcriptionEligible(file)
	nextKind, ok := queue.NextKind(job.Kind, withTail)

	var fileTo queue.FileState
	switch job.Kind {
	case queue.KindCopy:
		fileTo = queue.StateCopied
	case queue.KindProcess, queue.KindTranscribe:
		fileTo = queue.StateProcessing
	case queue.KindOrganize:
		if ok {
			fileTo = queue.StateProcessing
		} else {
			fileTo = queue.StateCompleted
		}
	case queue.KindAnalyze:
		fileTo = queue.StateCompleted
	default:
		fileTo = file.State
	}

	if !ok {
		return fileTo, nil
	}
	return fileTo, &queue.NextEnqueue{
		Kind:       nextKind,
		Priority:   job.Priority,
		MaxRetries: s.cfg.Pipeline.JobMaxRetries,
	}
}

func (s *Scheduler) transcriptionEligible(file *queue.File) bool {
	if !s.cfg.Transcription.Enabled {
		return false
	}
	if s.cfg.Transcription.ProgramOutputOnly && !file.IsProgramOutput {
		return false
	}
	return true
}

// Fail classifies the cause, computes the recovery backoff, and moves job and
// file to their failed states. Once the file's recovery attempts reach the
// configured ceiling the file is parked for manual retry instead, with no
// retry_after set.
func (s *Scheduler) Fail(ctx context.Context, job *queue.Job, cause error) error {
	if job == nil {
		return fmt.Errorf("job is required: %w", queue.ErrInvalidOperation)
	}
	file, err := s.store.FileByID(ctx, job.FileID)
	if err != nil {
		return err
	}

	category, message := failures.Classify(cause, job.Kind)
	attempt := file.RecoveryAttempts + 1
	manual := file.RecoveryAttempts >= s.cfg.Pipeline.MaxRecoveryAttempts

	info := queue.FailureInfo{
		Message:     message,
		Category:    string(category),
		Kind:        job.Kind,
		ManualRetry: manual,
	}
	if !manual {
		retryAfter := time.Now().UTC().Add(failures.BackoffDelay(category, attempt))
		info.RetryAfter = &retryAfter
	}

	if err := s.store.FailJob(ctx, job.ID, info); err != nil {
		return err
	}

	s.logger.Warn("job failed",
		logging.Int64(logging.FieldFileID, job.FileID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldKind, string(job.Kind)),
		logging.String("failure_category", string(category)),
		logging.Bool("manual_retry_required", manual),
		logging.String(logging.FieldEventType, "job_failure"),
		logging.Error(cause),
	)
	s.emit(ctx, notifications.Event{
		Type:            notifications.EventJobFailed,
		FileID:          job.FileID,
		JobID:           job.ID,
		Kind:            string(job.Kind),
		FileState:       string(queue.StateFailed),
		JobState:        string(queue.JobFailed),
		FailureCategory: string(category),
		Message:         message,
	})
	if manual {
		s.emit(ctx, notifications.Event{
			Type:            notifications.EventManualRetry,
			FileID:          job.FileID,
			Kind:            string(job.Kind),
			FailureCategory: string(category),
		})
	}
	return nil
}

// CancelActive flags every running, cancellable job for cooperative
// cancellation and records the checkpoint each worker must roll back to.
// Returns the number of jobs flagged.
func (s *Scheduler) CancelActive(ctx context.Context) (int, error) {
	flagged, err := s.store.RequestCancellation(ctx)
	if err != nil {
		return 0, err
	}
	if len(flagged) > 0 {
		s.logger.Info("cancellation requested", logging.Int("jobs", len(flagged)))
	}
	return len(flagged), nil
}

// CancellationRequested lets a worker poll the flag for its job.
func (s *Scheduler) CancellationRequested(ctx context.Context, jobID int64) (bool, error) {
	return s.store.CancellationRequested(ctx, jobID)
}

// FinalizeCancellation is called by a worker that observed the flag, stopped
// at a safe point, and removed partial output. It restores the file to the
// recorded checkpoint.
func (s *Scheduler) FinalizeCancellation(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return fmt.Errorf("job is required: %w", queue.ErrInvalidOperation)
	}
	if err := s.store.FinalizeCancelled(ctx, job.ID, "cancelled at safe point"); err != nil {
		return err
	}
	s.logger.Info("job cancelled",
		logging.Int64(logging.FieldFileID, job.FileID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldKind, string(job.Kind)),
	)
	s.emit(ctx, notifications.Event{
		Type:     notifications.EventJobCancelled,
		FileID:   job.FileID,
		JobID:    job.ID,
		Kind:     string(job.Kind),
		JobState: string(queue.JobFailed),
	})
	return nil
}

// Retry re-queues a failed job's file from the checkpoint for that job's
// kind, preserving downloaded or processed artifacts. A fresh job row is
// created; the failed one is never mutated.
func (s *Scheduler) Retry(ctx context.Context, jobID int64) (*queue.Job, error) {
	job, err := s.store.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != queue.JobFailed {
		return nil, fmt.Errorf("retry job %d in state %s: %w", jobID, job.State, queue.ErrInvalidOperation)
	}
	file, err := s.store.FileByID(ctx, job.FileID)
	if err != nil {
		return nil, err
	}
	if file.State != queue.StateFailed {
		return nil, fmt.Errorf("retry file %d in state %s: %w", file.ID, file.State, queue.ErrInvalidOperation)
	}

	checkpoint := queue.PreconditionState(job.Kind)
	fresh, err := s.store.RequeueFailed(ctx, file.ID, job.Kind, checkpoint, file.RecoveryAttempts, job.Priority, s.cfg.Pipeline.JobMaxRetries)
	if err != nil {
		return nil, err
	}

	s.logger.Info("job retried",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.Int64(logging.FieldJobID, fresh.ID),
		logging.String(logging.FieldKind, string(job.Kind)),
		logging.String("checkpoint", string(checkpoint)),
	)
	s.emit(ctx, notifications.Event{
		Type:      notifications.EventJobEnqueued,
		FileID:    file.ID,
		JobID:     fresh.ID,
		Kind:      string(fresh.Kind),
		FileState: string(checkpoint),
		JobState:  string(fresh.State),
	})
	return fresh, nil
}

// emit publishes an event to the sink. Delivery failures are logged and
// swallowed; the pipeline never stalls on notifications.
func (s *Scheduler) emit(ctx context.Context, event notifications.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := s.sink.Notify(ctx, event); err != nil {
		s.logger.Debug("event delivery failed",
			logging.String("event", string(event.Type)),
			logging.Error(err),
		)
	}
}

package workers

import (
	"context"
	"errors"

	"conveyor/internal/queue"
	"conveyor/internal/scheduler"
)

// ErrCancelled is returned by a handler that observed the cancellation flag,
// stopped at a safe point, and cleaned up partial output.
var ErrCancelled = errors.New("job cancelled")

// Handler executes the real work for one job kind.
type Handler interface {
	Kind() queue.Kind
	Execute(ctx context.Context, task *Task) error
}

// Task hands a claimed job and its file to a handler together with the
// scheduler callbacks the worker contract requires.
type Task struct {
	Job  *queue.Job
	File *queue.File

	sched *scheduler.Scheduler
}

// NewTask binds a claimed job and its file to the scheduler callbacks.
func NewTask(job *queue.Job, file *queue.File, sched *scheduler.Scheduler) *Task {
	return &Task{Job: job, File: file, sched: sched}
}

// Progress reports handler progress; percent is clamped to [0,100].
func (t *Task) Progress(ctx context.Context, percent float64, stage string) error {
	return t.sched.ReportProgress(ctx, t.Job, percent, stage)
}

// SetCancellable marks whether the job can be interrupted at the next safe
// point. Handlers enable it around long interruptible sections and disable
// it before non-reversible writes.
func (t *Task) SetCancellable(ctx context.Context, cancellable bool) error {
	if err := t.sched.Store().SetJobCancellable(ctx, t.Job.ID, cancellable); err != nil {
		return err
	}
	t.Job.IsCancellable = cancellable
	return nil
}

// Cancelled polls the cancellation flag. Handlers call this at safe points
// and, on true, undo partial output and return ErrCancelled.
func (t *Task) Cancelled(ctx context.Context) (bool, error) {
	return t.sched.CancellationRequested(ctx, t.Job.ID)
}

// SaveFile persists path and metadata fields the handler filled in.
func (t *Task) SaveFile(ctx context.Context) error {
	return t.sched.Store().UpdateFile(ctx, t.File)
}

package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/scheduler"
)

// Pool drives one kind's workers against the scheduler.
type Pool struct {
	sched        *scheduler.Scheduler
	handler      Handler
	logger       *slog.Logger
	size         int
	pollInterval time.Duration
	errorRetry   time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool builds a pool for the handler's kind sized from config.
func NewPool(cfg *config.Config, sched *scheduler.Scheduler, handler Handler, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	kind := handler.Kind()
	poll := time.Duration(cfg.Pipeline.PollIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	retry := time.Duration(cfg.Pipeline.ErrorRetrySeconds) * time.Second
	if retry <= 0 {
		retry = poll
	}
	return &Pool{
		sched:        sched,
		handler:      handler,
		logger:       logger.With(logging.String(logging.FieldComponent, "worker-pool"), logging.String(logging.FieldKind, string(kind))),
		size:         cfg.Pipeline.WorkerCount(string(kind)),
		pollInterval: poll,
		errorRetry:   retry,
	}
}

// Start launches the pool's workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.runWorker(runCtx)
	}
	return nil
}

// Stop terminates the pool and waits for in-flight jobs to wind down.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.sched.ClaimNext(ctx, p.handler.Kind())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("claim failed",
				logging.String(logging.FieldEventType, "claim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.Error(err),
			)
			p.sleep(ctx, p.errorRetry)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.pollInterval)
			continue
		}

		if err := p.runJob(ctx, job); err != nil && errors.Is(err, context.Canceled) {
			return
		}
	}
}

func (p *Pool) runJob(ctx context.Context, job *queue.Job) error {
	requestID := uuid.NewString()
	jobCtx := logging.WithRequestID(logging.WithJobID(logging.WithFileID(ctx, job.FileID), job.ID), requestID)
	jobLogger := logging.WithContext(jobCtx, p.logger)

	file, err := p.sched.Store().FileByID(jobCtx, job.FileID)
	if err != nil {
		jobLogger.Error("load file for job failed", logging.Error(err))
		if failErr := p.sched.Fail(jobCtx, job, err); failErr != nil {
			jobLogger.Error("record job failure failed", logging.Error(failErr))
		}
		return err
	}

	task := NewTask(job, file, p.sched)
	start := time.Now()
	jobLogger.Info("job started", logging.String(logging.FieldEventType, "job_start"))

	execErr := p.handler.Execute(jobCtx, task)
	switch {
	case execErr == nil:
		if err := p.sched.Complete(jobCtx, job); err != nil {
			jobLogger.Error("record job completion failed", logging.Error(err))
			return err
		}
		jobLogger.Info("job finished",
			logging.String(logging.FieldEventType, "job_complete"),
			logging.Duration("job_duration", time.Since(start)),
		)
		return nil
	case errors.Is(execErr, ErrCancelled):
		if err := p.sched.FinalizeCancellation(jobCtx, job); err != nil {
			jobLogger.Error("finalize cancellation failed", logging.Error(err))
			return err
		}
		jobLogger.Info("job cancelled at safe point",
			logging.String(logging.FieldEventType, "job_cancelled"),
		)
		return nil
	case errors.Is(execErr, context.Canceled):
		// Daemon shutdown: leave the job for the stuck-running sweep on the
		// next start rather than misclassifying the interruption.
		jobLogger.Debug("job interrupted by shutdown")
		return execErr
	default:
		if err := p.sched.Fail(jobCtx, job, execErr); err != nil {
			jobLogger.Error("record job failure failed", logging.Error(err))
			return err
		}
		return nil
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"conveyor/internal/analyze"
	"conveyor/internal/config"
	"conveyor/internal/deps"
	"conveyor/internal/fetch"
	"conveyor/internal/gpu"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/organizer"
	"conveyor/internal/processing"
	"conveyor/internal/queue"
	"conveyor/internal/recovery"
	"conveyor/internal/scheduler"
	"conveyor/internal/services/summarizer"
	"conveyor/internal/transcribe"
	"conveyor/internal/workers"
)

var manualFileExtensions = map[string]struct{}{
	".mkv": {},
	".mp4": {},
	".avi": {},
	".ts":  {},
	".mov": {},
}

// Daemon coordinates the background pipeline services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	sched    *scheduler.Scheduler
	recovery *recovery.Orchestrator
	gate     *gpu.Gate
	pools    []*workers.Pool
	logPath  string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Queue        queue.StatsSummary
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with its full pipeline wired: scheduler, one
// worker pool per job kind, and the recovery orchestrator.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	sink := notifications.NewService(cfg)
	sched := scheduler.New(cfg, store, logger, sink)
	gate := gpu.NewGate()

	fetcher := &fetch.FilesystemFetcher{Root: cfg.Source.RootDir}
	handlers := []workers.Handler{
		fetch.NewCopier(cfg, fetcher, logger),
		processing.NewProcessor(cfg, logger),
		organizer.New(cfg, logger),
	}
	if cfg.Transcription.Enabled {
		summaries := summarizer.NewClient(summarizer.Config{
			APIKey:         cfg.Analysis.APIKey,
			BaseURL:        cfg.Analysis.BaseURL,
			Model:          cfg.Analysis.Model,
			TimeoutSeconds: cfg.Analysis.TimeoutSeconds,
		})
		handlers = append(handlers,
			transcribe.New(cfg, gate, logger),
			analyze.New(cfg, gate, summaries, logger),
		)
	}

	pools := make([]*workers.Pool, 0, len(handlers))
	for _, handler := range handlers {
		pools = append(pools, workers.NewPool(cfg, sched, handler, logger))
	}

	lockPath := filepath.Join(cfg.LogDir, "conveyord.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		sched:    sched,
		recovery: recovery.New(cfg, store, logger, sink),
		gate:     gate,
		pools:    pools,
		logPath:  filepath.Join(cfg.LogDir, "conveyor.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, repairs jobs interrupted by the previous
// run, and launches the worker pools and recovery loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another conveyor daemon instance is already running")
	}

	for _, status := range deps.Missing(deps.Check(deps.ForConfig(d.cfg))) {
		d.logger.Warn("external tool unavailable",
			logging.String("tool", status.Name),
			logging.String("detail", status.Detail),
		)
	}

	reset, err := d.store.ResetStuckRunning(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset interrupted jobs: %w", err)
	}
	if reset > 0 {
		d.logger.Info("re-queued jobs interrupted by previous shutdown", logging.Int64("count", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	started := make([]*workers.Pool, 0, len(d.pools))
	for _, pool := range d.pools {
		if err := pool.Start(runCtx); err != nil {
			for _, p := range started {
				p.Stop()
			}
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start worker pool: %w", err)
		}
		started = append(started, pool)
	}
	if err := d.recovery.Start(runCtx); err != nil {
		for _, p := range started {
			p.Stop()
		}
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start recovery: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("conveyor daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("pools", len(d.pools)),
	)
	return nil
}

// Stop shuts the pipeline down: the accelerator gate refuses new holders,
// pools drain, recovery stops, and the lock is released.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.gate.RequestShutdown()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.recovery.Stop()
	for _, pool := range d.pools {
		pool.Stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("conveyor daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Scheduler exposes the scheduler for control surfaces.
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.sched }

// AddFile ingests a local file for processing. Discovery normally feeds the
// pipeline; this is the manual path for operators.
func (d *Daemon) AddFile(ctx context.Context, sourcePath, sessionID string, priority int) (*queue.File, error) {
	trimmed := strings.TrimSpace(sourcePath)
	if trimmed == "" {
		return nil, errors.New("source path is required")
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source path %q is a directory", absPath)
	}
	ext := strings.ToLower(filepath.Ext(info.Name()))
	if _, ok := manualFileExtensions[ext]; !ok {
		return nil, fmt.Errorf("unsupported file extension %q", ext)
	}
	file, _, err := d.sched.Ingest(ctx, absPath, sessionID, priority, false, nil)
	if err != nil {
		return nil, fmt.Errorf("enqueue manual file: %w", err)
	}
	d.logger.Info("manual file queued",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("source", absPath),
	)
	return file, nil
}

// CancelActive requests cooperative cancellation of all cancellable running
// jobs and returns how many were flagged.
func (d *Daemon) CancelActive(ctx context.Context) (int, error) {
	return d.sched.CancelActive(ctx)
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		Queue:        stats,
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}, nil
}

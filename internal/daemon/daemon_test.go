package daemon_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/testsupport"
)

func newDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*daemon.Daemon, *queue.Store, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, store, cfg
}

func TestAddFileQueuesSupportedMedia(t *testing.T) {
	d, store, _ := newDaemon(t)
	ctx := context.Background()

	source := filepath.Join(t.TempDir(), "show.mkv")
	testsupport.WriteFile(t, source, 2048)

	file, err := d.AddFile(ctx, source, "manual-1", 2)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if file.State != queue.StateQueued {
		t.Fatalf("file state = %s, want queued", file.State)
	}
	if file.Priority != 2 {
		t.Fatalf("priority = %d, want 2", file.Priority)
	}

	job, err := store.ClaimNext(ctx, queue.KindCopy, 0)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job == nil || job.FileID != file.ID {
		t.Fatalf("copy job = %+v", job)
	}
}

func TestAddFileRejectsUnsupportedExtension(t *testing.T) {
	d, _, _ := newDaemon(t)

	source := filepath.Join(t.TempDir(), "notes.txt")
	testsupport.WriteFile(t, source, 10)

	_, err := d.AddFile(context.Background(), source, "manual-1", 0)
	if err == nil || !strings.Contains(err.Error(), "unsupported file extension") {
		t.Fatalf("expected extension error, got %v", err)
	}
}

func TestAddFileRejectsDirectoriesAndMissingPaths(t *testing.T) {
	d, _, _ := newDaemon(t)
	ctx := context.Background()

	if _, err := d.AddFile(ctx, t.TempDir(), "s", 0); err == nil {
		t.Fatal("expected error for directory")
	}
	if _, err := d.AddFile(ctx, filepath.Join(t.TempDir(), "absent.mkv"), "s", 0); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := d.AddFile(ctx, "   ", "s", 0); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	d, _, _ := newDaemon(t)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("status not running after Start")
	}
	if status.LockFilePath == "" || status.QueueDBPath == "" {
		t.Fatalf("status paths empty: %+v", status)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("second Start did not fail")
	}

	d.Stop()
	status, err = d.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Fatal("status running after Stop")
	}
}

func TestStartRepairsInterruptedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	// Simulate a crash: a job left running from a previous daemon.
	_, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindProcess)
	if _, err := store.ClaimNext(ctx, queue.KindProcess, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	// The interrupted job was finalized during startup; its replacement is
	// live queue state the running workers own.
	stuck, err := store.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if stuck.State != queue.JobFailed || stuck.ErrorMessage != "daemon stopped" {
		t.Fatalf("interrupted job = %+v", stuck)
	}
}

func TestSecondInstanceRefusesLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	second, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("second instance acquired the lock")
	}
}

package fetch_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"conveyor/internal/fetch"
	"conveyor/internal/queue"
	"conveyor/internal/scheduler"
	"conveyor/internal/testsupport"
	"conveyor/internal/workers"
)

func claimCopyTask(t *testing.T, sched *scheduler.Scheduler, remotePath string) *workers.Task {
	t.Helper()
	ctx := context.Background()
	if _, _, err := sched.Ingest(ctx, remotePath, "s", 0, false, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	job, err := sched.ClaimNext(ctx, queue.KindCopy)
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: job=%v err=%v", job, err)
	}
	file, err := sched.Store().FileByID(ctx, job.FileID)
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	return workers.NewTask(job, file, sched)
}

func TestCopierStagesFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sched := scheduler.New(cfg, store, nil, nil)
	ctx := context.Background()

	sourceDir := t.TempDir()
	source := filepath.Join(sourceDir, "show.mkv")
	testsupport.WriteFile(t, source, 256*1024)

	copier := fetch.NewCopier(cfg, &fetch.FilesystemFetcher{}, nil)
	task := claimCopyTask(t, sched, source)

	if err := copier.Execute(ctx, task); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	loaded, err := store.FileByID(ctx, task.File.ID)
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if loaded.LocalPath == "" {
		t.Fatal("local path not persisted")
	}
	if filepath.Dir(loaded.LocalPath) != cfg.StagingDir {
		t.Fatalf("staged outside staging dir: %s", loaded.LocalPath)
	}

	want, err := os.ReadFile(source)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	got, err := os.ReadFile(loaded.LocalPath)
	if err != nil {
		t.Fatalf("read staged: %v", err)
	}
	if !bytes.Equal(want, got) {
		t.Fatal("staged content differs from source")
	}
}

func TestCopierResolvesRelativePathsAgainstRoot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sched := scheduler.New(cfg, store, nil, nil)
	ctx := context.Background()

	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "outbound", "a.mkv"), 1024)

	copier := fetch.NewCopier(cfg, &fetch.FilesystemFetcher{Root: root}, nil)
	task := claimCopyTask(t, sched, filepath.Join("outbound", "a.mkv"))

	if err := copier.Execute(ctx, task); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if task.File.LocalPath == "" {
		t.Fatal("local path not set")
	}
}

func TestFilesystemFetcherRejectsEmptyPath(t *testing.T) {
	fetcher := &fetch.FilesystemFetcher{Root: t.TempDir()}
	if _, _, err := fetcher.Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty remote path")
	}
}

func TestCopierMissingRemotePath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sched := scheduler.New(cfg, store, nil, nil)

	task := claimCopyTask(t, sched, "/absent/nothing.mkv")
	copier := fetch.NewCopier(cfg, &fetch.FilesystemFetcher{}, nil)

	err := copier.Execute(context.Background(), task)
	if err == nil {
		t.Fatal("expected error for missing source")
	}

	// No partial file may remain in staging.
	entries, readErr := os.ReadDir(cfg.StagingDir)
	if readErr != nil {
		t.Fatalf("read staging dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("staging dir not empty: %d entries", len(entries))
	}
}

func TestCopierCancellationRemovesPartial(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sched := scheduler.New(cfg, store, nil, nil)
	ctx := context.Background()

	source := filepath.Join(t.TempDir(), "big.mkv")
	testsupport.WriteFile(t, source, 64*1024)

	copier := fetch.NewCopier(cfg, &fetch.FilesystemFetcher{}, nil)
	task := claimCopyTask(t, sched, source)

	// Flag cancellation before the transfer loop starts; the copier checks
	// the flag at its safe point and must abandon the download.
	if err := task.SetCancellable(ctx, true); err != nil {
		t.Fatalf("SetCancellable: %v", err)
	}
	if _, err := sched.CancelActive(ctx); err != nil {
		t.Fatalf("CancelActive: %v", err)
	}

	err := copier.Execute(ctx, task)
	if !errors.Is(err, workers.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	entries, readErr := os.ReadDir(cfg.StagingDir)
	if readErr != nil {
		t.Fatalf("read staging dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("partial download left behind: %d entries", len(entries))
	}

	if err := sched.FinalizeCancellation(ctx, task.Job); err != nil {
		t.Fatalf("FinalizeCancellation: %v", err)
	}
	loaded, err := store.FileByID(ctx, task.File.ID)
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if loaded.State != queue.StateQueued {
		t.Fatalf("file state = %s, want checkpoint queued", loaded.State)
	}
}

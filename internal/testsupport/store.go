package testsupport

import (
	"context"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewFile registers a file for tests using the provided store.
func NewFile(t testing.TB, store *queue.Store, remotePath string) *queue.File {
	t.Helper()

	file, err := store.NewFile(context.Background(), remotePath, "test-session", 0, false, nil)
	if err != nil {
		t.Fatalf("store.NewFile: %v", err)
	}
	return file
}

// QueuedFile registers a file and advances it to the queued state.
func QueuedFile(t testing.TB, store *queue.Store, remotePath string) *queue.File {
	t.Helper()

	file := NewFile(t, store, remotePath)
	if err := store.TransitionFile(context.Background(), file.ID, queue.StateDiscovered, queue.StateQueued); err != nil {
		t.Fatalf("transition to queued: %v", err)
	}
	file.State = queue.StateQueued
	return file
}

// QueuedJob registers a queued file with a queued job of the given kind. The
// file is advanced to the kind's precondition state first.
func QueuedJob(t testing.TB, store *queue.Store, remotePath string, kind queue.Kind) (*queue.File, *queue.Job) {
	t.Helper()

	ctx := context.Background()
	file := QueuedFile(t, store, remotePath)
	advanceFileTo(t, store, file, queue.PreconditionState(kind))

	job, err := store.InsertJob(ctx, file.ID, kind, 0, 1)
	if err != nil {
		t.Fatalf("store.InsertJob: %v", err)
	}
	return file, job
}

// advanceFileTo walks the file through legal transitions until it reaches the
// target state.
func advanceFileTo(t testing.TB, store *queue.Store, file *queue.File, target queue.FileState) {
	t.Helper()

	path := map[queue.FileState][]queue.FileState{
		queue.StateQueued:     {},
		queue.StateCopying:    {queue.StateCopying},
		queue.StateCopied:     {queue.StateCopying, queue.StateCopied},
		queue.StateProcessing: {queue.StateCopying, queue.StateCopied, queue.StateProcessing},
	}
	steps, ok := path[target]
	if !ok {
		t.Fatalf("no seed path to state %s", target)
	}
	ctx := context.Background()
	for _, next := range steps {
		if err := store.TransitionFile(ctx, file.ID, file.State, next); err != nil {
			t.Fatalf("transition %s -> %s: %v", file.State, next, err)
		}
		file.State = next
	}
}

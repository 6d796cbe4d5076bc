package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"conveyor/internal/logs"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestLastLinesReturnsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	writeLog(t, path, "one\ntwo\nthree\nfour\nfive\n")

	lines, offset, err := logs.LastLines(path, 3)
	if err != nil {
		t.Fatalf("LastLines: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"three", "four", "five"}) {
		t.Fatalf("lines = %v", lines)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if offset != info.Size() {
		t.Fatalf("offset = %d, want %d", offset, info.Size())
	}
}

func TestLastLinesFewerThanLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	writeLog(t, path, "only\n")

	lines, _, err := logs.LastLines(path, 10)
	if err != nil {
		t.Fatalf("LastLines: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"only"}) {
		t.Fatalf("lines = %v", lines)
	}
}

func TestLastLinesMissingFile(t *testing.T) {
	lines, offset, err := logs.LastLines(filepath.Join(t.TempDir(), "absent.log"), 5)
	if err != nil {
		t.Fatalf("LastLines: %v", err)
	}
	if len(lines) != 0 || offset != 0 {
		t.Fatalf("lines=%v offset=%d, want empty", lines, offset)
	}
}

func TestLastLinesZeroLimitSeeksToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	writeLog(t, path, "a\nb\n")

	lines, offset, err := logs.LastLines(path, 0)
	if err != nil {
		t.Fatalf("LastLines: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("lines = %v, want none", lines)
	}
	if offset != 4 {
		t.Fatalf("offset = %d, want 4", offset)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	writeLog(t, path, "existing\n")

	_, offset, err := logs.LastLines(path, 1)
	if err != nil {
		t.Fatalf("LastLines: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = logs.Follow(ctx, path, offset, func(line string) { got <- line })
	}()

	appendLog(t, path, "fresh line\n")

	select {
	case line := <-got:
		if line != "fresh line" {
			t.Errorf("line = %q", line)
		}
	case <-time.After(5 * time.Second):
		t.Error("timed out waiting for appended line")
	}
	cancel()
	<-done
}

func TestFollowRestartsAfterTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	writeLog(t, path, "old old old old\n")

	_, offset, err := logs.LastLines(path, 1)
	if err != nil {
		t.Fatalf("LastLines: %v", err)
	}

	// Simulate rotation: replace the file with a shorter one.
	writeLog(t, path, "new\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = logs.Follow(ctx, path, offset, func(line string) { got <- line })
	}()

	select {
	case line := <-got:
		if line != "new" {
			t.Errorf("line = %q", line)
		}
	case <-time.After(5 * time.Second):
		t.Error("timed out waiting for post-rotation line")
	}
	cancel()
	<-done
}

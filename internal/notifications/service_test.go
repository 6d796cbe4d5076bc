package notifications

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"conveyor/internal/config"
)

func ntfyFixture(t *testing.T, handler http.HandlerFunc) (*ntfyService, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc, ok := NewService(&cfg).(*ntfyService)
	if !ok {
		t.Fatal("expected ntfy-backed service")
	}
	return svc, server
}

func TestNewServiceWithoutTopicIsNoop(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = "  "
	svc := NewService(&cfg)
	if _, ok := svc.(noopService); !ok {
		t.Fatalf("expected noop service, got %T", svc)
	}
	if err := svc.Notify(context.Background(), Event{Type: EventJobFailed}); err != nil {
		t.Fatalf("noop Notify: %v", err)
	}
}

func TestNotifySendsFailureEvent(t *testing.T) {
	var gotTitle, gotPriority, gotBody string
	svc, _ := ntfyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	})

	err := svc.Notify(context.Background(), Event{
		Type:            EventJobFailed,
		FileID:          7,
		Kind:            "copy",
		FailureCategory: "FTP_CONNECTION",
		Message:         "connection refused",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotTitle != "Conveyor - Job Failed" {
		t.Fatalf("title = %q", gotTitle)
	}
	if gotPriority != "high" {
		t.Fatalf("priority = %q", gotPriority)
	}
	if gotBody != "copy failed for file #7 (FTP_CONNECTION): connection refused" {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestNotifyIgnoresLowSignalEvents(t *testing.T) {
	svc, _ := ntfyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("low-signal event reached the topic")
	})

	for _, eventType := range []EventType{EventJobProgress, EventJobClaimed, EventJobEnqueued, EventFileDiscovered} {
		if err := svc.Notify(context.Background(), Event{Type: eventType}); err != nil {
			t.Fatalf("Notify(%s): %v", eventType, err)
		}
	}
}

func TestNotifyRespectsCategoryToggles(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Errors = false
	cfg.Notifications.Completions = false
	cfg.Notifications.Recovery = true
	svc := NewService(&cfg)
	ctx := context.Background()

	if err := svc.Notify(ctx, Event{Type: EventJobFailed}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := svc.Notify(ctx, Event{Type: EventFileCompleted}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls != 0 {
		t.Fatalf("suppressed events sent %d requests", calls)
	}

	if err := svc.Notify(ctx, Event{Type: EventRecoveryRequeue, FileID: 1, Kind: "copy"}); err != nil {
		t.Fatalf("Notify recovery: %v", err)
	}
	if calls != 1 {
		t.Fatalf("recovery event calls = %d, want 1", calls)
	}
}

func TestNotifySurfacesRejection(t *testing.T) {
	svc, _ := ntfyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	err := svc.Notify(context.Background(), Event{Type: EventFileCompleted, FileID: 1})
	if err == nil {
		t.Fatal("expected error for rejected notification")
	}
}

package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conveyor/internal/config"
)

const userAgent = "Conveyor-Go/0.1.0"

// Service is the notification surface exposed to pipeline components.
type Service interface {
	Notify(ctx context.Context, event Event) error
}

// NewService builds a notification sink backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		errors:      cfg.Notifications.Errors,
		completions: cfg.Notifications.Completions,
		recovery:    cfg.Notifications.Recovery,
	}
}

type noopService struct{}

func (noopService) Notify(context.Context, Event) error { return nil }

// NewNop returns a sink that drops everything.
func NewNop() Service { return noopService{} }

type ntfyService struct {
	endpoint    string
	client      *http.Client
	errors      bool
	completions bool
	recovery    bool
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

func (n *ntfyService) Notify(ctx context.Context, event Event) error {
	data, ok := n.render(event)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

// render maps the high-signal events to push payloads. Per-progress and
// per-claim events are deliberately ignored; they would swamp the topic.
func (n *ntfyService) render(event Event) (payload, bool) {
	switch event.Type {
	case EventJobFailed:
		if !n.errors {
			return payload{}, false
		}
		return payload{
			title:    "Conveyor - Job Failed",
			message:  fmt.Sprintf("%s failed for file #%d (%s): %s", event.Kind, event.FileID, event.FailureCategory, event.Message),
			tags:     []string{"conveyor", "failure"},
			priority: "high",
		}, true
	case EventManualRetry:
		if !n.errors {
			return payload{}, false
		}
		return payload{
			title:    "Conveyor - Manual Retry Required",
			message:  fmt.Sprintf("File #%d exhausted automatic recovery (%s)", event.FileID, event.FailureCategory),
			tags:     []string{"conveyor", "failure", "manual"},
			priority: "high",
		}, true
	case EventFileCompleted:
		if !n.completions {
			return payload{}, false
		}
		return payload{
			title:   "Conveyor - File Completed",
			message: fmt.Sprintf("File #%d finished the pipeline", event.FileID),
			tags:    []string{"conveyor", "completed"},
		}, true
	case EventRecoveryRequeue:
		if !n.recovery {
			return payload{}, false
		}
		return payload{
			title:   "Conveyor - Recovery",
			message: fmt.Sprintf("File #%d re-queued for %s", event.FileID, event.Kind),
			tags:    []string{"conveyor", "recovery"},
		}, true
	default:
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	endpoint := n.endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://ntfy.sh/" + endpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}
	return nil
}

package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"hive/internal/config"
)

const userAgent = "hive/0.1"

// Service is the alert surface used by the supervisor daemon.
type Service interface {
	NotifyWorkerUnresponsive(ctx context.Context, workerID string, failures int) error
	NotifyWorkerRestarted(ctx context.Context, workerID string) error
	NotifyRestartFailed(ctx context.Context, workerID string) error
	NotifyQueueDrained(ctx context.Context, done, failed int) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op one when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: cfg.NotificationTimeout()},
		label:    cfg.Store.Label,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	label    string
}

func (n *ntfyService) title(suffix string) string {
	if n.label == "" {
		return "hive - " + suffix
	}
	return fmt.Sprintf("hive (%s) - %s", n.label, suffix)
}

func (n *ntfyService) NotifyWorkerUnresponsive(ctx context.Context, workerID string, failures int) error {
	return n.send(ctx, payload{
		title:    n.title("Worker Unresponsive"),
		message:  fmt.Sprintf("Worker %s missed its heartbeat (%d consecutive checks); its tasks were re-queued", workerID, failures),
		tags:     []string{"hive", "worker", "unresponsive"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyWorkerRestarted(ctx context.Context, workerID string) error {
	return n.send(ctx, payload{
		title:   n.title("Worker Restarted"),
		message: fmt.Sprintf("Worker %s was relaunched after repeated health-check failures", workerID),
		tags:    []string{"hive", "worker", "restarted"},
	})
}

func (n *ntfyService) NotifyRestartFailed(ctx context.Context, workerID string) error {
	return n.send(ctx, payload{
		title:    n.title("Restart Failed"),
		message:  fmt.Sprintf("Worker %s could not be relaunched; manual intervention required", workerID),
		tags:     []string{"hive", "worker", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyQueueDrained(ctx context.Context, done, failed int) error {
	title := n.title("Queue Drained")
	message := fmt.Sprintf("All tasks settled: %d done", done)
	if failed > 0 {
		title = n.title("Queue Drained (with failures)")
		message = fmt.Sprintf("All tasks settled: %d done, %d failed", done, failed)
	}
	return n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"hive", "queue", "drained"},
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" during ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    n.title("Error"),
		message:  builder.String(),
		tags:     []string{"hive", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    n.title("Test"),
		message:  "Notification system test",
		tags:     []string{"hive", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyWorkerUnresponsive(context.Context, string, int) error { return nil }
func (noopService) NotifyWorkerRestarted(context.Context, string) error         { return nil }
func (noopService) NotifyRestartFailed(context.Context, string) error           { return nil }
func (noopService) NotifyQueueDrained(context.Context, int, int) error          { return nil }
func (noopService) NotifyError(context.Context, error, string) error            { return nil }
func (noopService) TestNotification(context.Context) error                      { return nil }

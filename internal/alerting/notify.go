package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/arcana-app/arcana-go/internal/models"
)

// LogNotifier writes alerts to the structured log. Always configured, so
// every alert is visible even when no webhook is set up.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, alert models.Alert) error {
	level := slog.LevelWarn
	if alert.Severity == models.SeverityCritical {
		level = slog.LevelError
	}
	n.Logger.Log(context.Background(), level, "quality alert",
		"metric", alert.Metric,
		"severity", alert.Severity,
		"delta", alert.Delta,
		"prompt_version", alert.Dims.PromptVersion,
		"variant", alert.Dims.Variant,
		"spread", alert.Dims.Spread,
		"provider", alert.Dims.Provider,
		"message", alert.Message,
	)
	return nil
}

// WebhookNotifier posts alerts as JSON to a configured endpoint, e.g. a
// Slack-compatible incoming webhook.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NewWebhookNotifier creates a webhook notifier with a bounded client.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert models.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %s", resp.Status)
	}
	return nil
}

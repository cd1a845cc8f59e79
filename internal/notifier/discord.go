package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/italolelis/download_coordinator/internal/logctx"
)

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// DiscordNotifier posts messages to a Discord webhook. Client defaults to a client with
// DefaultTimeout.
type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

// Send posts content to the webhook.
func (d *DiscordNotifier) Send(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return errors.New("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = defaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// Notify sends message and logs delivery failures.
func (d *DiscordNotifier) Notify(ctx context.Context, message string) {
	if err := d.Send(ctx, message); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
	}
}

// LogNotifier writes messages to the context logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, message string) {
	logctx.LoggerFromContext(ctx).Info("notification", "message", message)
}

// Multi forwards every message to each of its notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string) {
	for _, n := range m {
		n.Notify(ctx, message)
	}
}

package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"crypto_arb/internal/domain"
)

// Webhook posts each alert as JSON to a single URL. One attempt per alert,
// bounded by the client timeout.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.AlertSink = (*Webhook)(nil)

// NewWebhook creates a webhook sink. A non-positive timeout falls back to 5s.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("module", "alert_webhook"),
	}
}

type webhookPayload struct {
	Level   domain.AlertLevel `json:"level"`
	Subject string            `json:"subject"`
	Body    string            `json:"body,omitempty"`
	Time    string            `json:"time"`
	// text is what chat webhooks (Slack, Discord compatible) render
	Text string `json:"text"`
}

// Send delivers a. Failures are logged and returned, never retried.
func (w *Webhook) Send(ctx context.Context, a domain.Alert) error {
	payload := webhookPayload{
		Level:   a.Level,
		Subject: a.Subject,
		Body:    a.Body,
		Time:    a.Time.UTC().Format(time.RFC3339),
		Text:    fmt.Sprintf("[%s] %s %s", a.Level, a.Subject, a.Body),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Warn("⚠️ Alert delivery failed", slog.String("subject", a.Subject), slog.Any("error", err))
		return fmt.Errorf("alert webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Warn("⚠️ Alert rejected", slog.String("subject", a.Subject), slog.Int("status", resp.StatusCode))
		return fmt.Errorf("alert webhook: unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

package infra

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"liquibot/internal/domain"
)

// Notifier implements domain.Notifier. Every message is logged through slog;
// when a webhook URL is configured, messages are also POSTed there so an
// operator can watch the bot from chat.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a notifier. webhookURL may be empty (log only).
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Notify reports a human-facing message with the given severity.
// Never blocks the caller on webhook delivery and never returns an error:
// reporting must not be able to break the control loop.
func (n *Notifier) Notify(message string, severity domain.Severity) {
	switch severity {
	case domain.SeverityWarn:
		slog.Warn(message)
	case domain.SeverityError:
		slog.Error(message)
	default:
		slog.Info(message)
	}

	if n.webhookURL == "" {
		return
	}
	go n.postWebhook(message, severity)
}

func (n *Notifier) postWebhook(message string, severity domain.Severity) {
	payload := struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
		Ts       int64  `json:"ts"`
	}{
		Message:  message,
		Severity: severity.String(),
		Ts:       time.Now().UnixMilli(),
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return
	}

	resp, err := n.httpClient.Post(n.webhookURL, "application/json", bytes.NewReader(b))
	if err != nil {
		slog.Warn("Webhook delivery failed", slog.Any("error", err))
		return
	}
	resp.Body.Close()
}

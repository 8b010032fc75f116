package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/security"
)

// maxErrorBody bounds how much of an error response lands in logs.
const maxErrorBody = 500

// WebhookNotifier delivers notifications as signed JSON POSTs, typically to
// the Apps Script web app that emails the applicant.
type WebhookNotifier struct {
	endpoint string
	secret   []byte
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhookNotifier builds a notifier for the given HTTPS endpoint. Plain
// http is admitted only for loopback hosts.
func NewWebhookNotifier(endpoint, secret string, logger *slog.Logger) (*WebhookNotifier, error) {
	if endpoint == "" {
		return nil, apierrors.NewValidation("notification.webhook_url", "is required in webhook mode")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, apierrors.NewValidation("notification.webhook_url", "is not a valid URL")
	}
	if u.Scheme != "https" && !isLoopback(u.Hostname()) {
		return nil, apierrors.NewValidation("notification.webhook_url", "must use https")
	}
	if secret == "" {
		return nil, apierrors.NewValidation("notification.webhook_secret", "is required in webhook mode")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		endpoint: endpoint,
		secret:   []byte(secret),
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With(slog.String("component", "notify")),
	}, nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// Send posts the notification with a body signature.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.SignatureHeader, security.Sign(w.secret, body))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		w.logger.ErrorContext(ctx, "notification endpoint rejected delivery",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(detail)),
			slog.String("user_id", n.UserID))
		return fmt.Errorf("notification endpoint returned HTTP %d", resp.StatusCode)
	}

	w.logger.InfoContext(ctx, "notification delivered",
		slog.String("user_id", n.UserID),
		slog.String("email", n.Email))
	return nil
}


package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"sankeyhub/internal/config"
	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/security"
)

// TriggerAction is the command the hub sends to a GAS web app to make it
// run its self-test flow. The web app reports each step back through the
// integration webhook.
const TriggerAction = "runIntegrationTest"

// maxTriggerResponseBody bounds how much of an error response lands in logs.
const maxTriggerResponseBody = 500

type triggerRequest struct {
	Action string `json:"action"`
	TestID string `json:"test_id"`
}

// GASClient kicks off integration test runs on deployed Apps Script web
// apps. Requests carry the shared-secret body signature so the web app can
// tell the hub apart from strangers who learned its URL.
type GASClient struct {
	client *http.Client
	secret []byte
	logger *slog.Logger
}

// NewGASClient builds a trigger client from the integration config.
func NewGASClient(cfg config.IntegrationConfig, logger *slog.Logger) *GASClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GASClient{
		// Apps Script web apps answer through a redirect chain and are
		// slow to cold-start, hence the generous timeout.
		client: &http.Client{Timeout: cfg.GASRequestTimeout},
		secret: []byte(cfg.GASSharedSecret),
		logger: logger.With(slog.String("component", "gas_client")),
	}
}

// Trigger asks the web app at webappURL to start the test run identified
// by testID. Failures wrap ErrGASUnreachable.
func (g *GASClient) Trigger(ctx context.Context, webappURL, testID string) error {
	body, err := json.Marshal(triggerRequest{Action: TriggerAction, TestID: testID})
	if err != nil {
		return fmt.Errorf("marshal trigger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webappURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(g.secret) > 0 {
		req.Header.Set(security.SignatureHeader, security.Sign(g.secret, body))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.ErrorContext(ctx, "trigger request failed",
			slog.String("test_id", testID),
			slog.String("error", err.Error()))
		return fmt.Errorf("trigger %s: %w", testID, apierrors.ErrGASUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxTriggerResponseBody))
		g.logger.ErrorContext(ctx, "web app refused trigger",
			slog.String("test_id", testID),
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(detail)))
		return fmt.Errorf("trigger %s: web app returned HTTP %d: %w", testID, resp.StatusCode, apierrors.ErrGASUnreachable)
	}

	g.logger.InfoContext(ctx, "test run triggered", slog.String("test_id", testID))
	return nil
}

package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"sankeyhub/internal/infrastructure"
	"sankeyhub/internal/security"
)

// maxWebhookBody caps how much of a webhook payload is read for signature
// verification. Form submissions and step reports are well under 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookSignature verifies the HMAC-SHA256 signature the form backend and
// the test harness put in the X-Sankey-Signature header, computed over the
// raw request body with the shared webhook secret. Requests with a missing
// or mismatched signature are rejected with 401 before any handler runs.
//
// When no secret is configured the middleware passes everything through,
// which is the local development mode.
func WebhookSignature(secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	if secret == "" {
		logger.Warn("webhook signature verification disabled, no secret configured")
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				logger.WarnContext(ctx, "webhook body read failed",
					"error", err,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				problem := ProblemFromStatus(
					http.StatusBadRequest,
					"Request body could not be read",
					infrastructure.GetTraceID(ctx),
				)
				problem.Render(w, r)
				return
			}
			// Handlers still need to decode the payload.
			r.Body = io.NopCloser(bytes.NewReader(body))

			signature := r.Header.Get(security.SignatureHeader)
			if signature == "" {
				logger.WarnContext(ctx, "webhook rejected, signature missing",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				problem := ProblemFromStatus(
					http.StatusUnauthorized,
					"Missing webhook signature",
					infrastructure.GetTraceID(ctx),
				)
				problem.Render(w, r)
				return
			}

			if !security.VerifySignature(key, body, signature) {
				logger.WarnContext(ctx, "webhook rejected, signature mismatch",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				problem := ProblemFromStatus(
					http.StatusUnauthorized,
					"Webhook signature verification failed",
					infrastructure.GetTraceID(ctx),
				)
				problem.Render(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

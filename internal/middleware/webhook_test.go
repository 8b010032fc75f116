package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sankeyhub/internal/security"
)

func TestWebhookSignature(t *testing.T) {
	const secret = "shared-webhook-secret"
	body := `{"action":"updateTestStatus","testId":"INTEGRATION_1700000000000_a1b2c3d4"}`

	newRequest := func(payload, signature string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/integration", strings.NewReader(payload))
		if signature != "" {
			req.Header.Set(security.SignatureHeader, signature)
		}
		return req
	}

	t.Run("signed payload reaches the handler with the body intact", func(t *testing.T) {
		var seen string
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			seen = string(got)
			w.WriteHeader(http.StatusOK)
		})

		sig := security.Sign([]byte(secret), []byte(body))
		rec := httptest.NewRecorder()

		WebhookSignature(secret, testLogger())(next).ServeHTTP(rec, newRequest(body, sig))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, body, seen)
	})

	t.Run("rejections", func(t *testing.T) {
		tests := []struct {
			name       string
			payload    string
			signature  string
			wantDetail string
		}{
			{
				name:       "missing signature header",
				payload:    body,
				signature:  "",
				wantDetail: "Missing webhook signature",
			},
			{
				name:       "signature over different body",
				payload:    `{"action":"updateTestStatus","testId":"INTEGRATION_1700000000000_tampered"}`,
				signature:  security.Sign([]byte(secret), []byte(body)),
				wantDetail: "Webhook signature verification failed",
			},
			{
				name:       "signature under wrong secret",
				payload:    body,
				signature:  security.Sign([]byte("not-the-secret"), []byte(body)),
				wantDetail: "Webhook signature verification failed",
			},
			{
				name:       "garbage signature",
				payload:    body,
				signature:  "zz-not-hex",
				wantDetail: "Webhook signature verification failed",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					t.Error("handler should not run for rejected webhooks")
				})

				rec := httptest.NewRecorder()
				WebhookSignature(secret, testLogger())(next).ServeHTTP(rec, newRequest(tt.payload, tt.signature))

				assert.Equal(t, http.StatusUnauthorized, rec.Code)
				assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

				var problem map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
				assert.Equal(t, "/errors/unauthorized", problem["type"])
				assert.Equal(t, tt.wantDetail, problem["detail"])
			})
		}
	})

	t.Run("no secret disables verification", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})

		rec := httptest.NewRecorder()
		WebhookSignature("", testLogger())(next).ServeHTTP(rec, newRequest(body, ""))

		assert.Equal(t, http.StatusAccepted, rec.Code)
	})
}

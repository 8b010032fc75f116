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

	apierrors "sankeyhub/internal/errors"
)

func newValidationMiddleware() *ValidationMiddleware {
	logger := testLogger()
	return NewValidationMiddleware(logger, apierrors.NewErrorHandler(logger, false))
}

func TestValidationMiddleware_ValidateRequest(t *testing.T) {
	vm := newValidationMiddleware()

	t.Run("well-formed body reaches the handler intact", func(t *testing.T) {
		var seen string
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			seen = string(body)
			w.WriteHeader(http.StatusOK)
		})

		payload := `{"userId":"dev-1","accountNumber":"5001001"}`
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/form", strings.NewReader(payload))
		rec := httptest.NewRecorder()

		vm.ValidateRequest(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, payload, seen)
	})

	t.Run("malformed JSON is rejected before the handler", func(t *testing.T) {
		called := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		})

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/form", strings.NewReader(`{"userId": unterminated`))
		rec := httptest.NewRecorder()

		vm.ValidateRequest(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, called)

		var problem map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		assert.Equal(t, "/errors/invalid-request", problem["type"])
		assert.Equal(t, "INVALID_JSON", problem["error_code"])
	})

	t.Run("oversized payload is rejected with 413", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not run for oversized payloads")
		})

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/form", strings.NewReader("{}"))
		req.ContentLength = 2 << 20
		rec := httptest.NewRecorder()

		vm.ValidateRequest(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

		var problem map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		assert.Equal(t, "/errors/payload-too-large", problem["type"])
	})

	t.Run("reads pass through untouched", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		rec := httptest.NewRecorder()
		vm.ValidateRequest(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profile/u-1", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

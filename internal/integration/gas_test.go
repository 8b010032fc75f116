package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sankeyhub/internal/config"
	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gasTestConfig(secret string) config.IntegrationConfig {
	return config.IntegrationConfig{
		GASRequestTimeout: 2 * time.Second,
		GASSharedSecret:   secret,
	}
}

func TestGASClient_TriggerSignsRequest(t *testing.T) {
	const secret = "gas-shared-secret"

	var gotSignature string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(security.SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewGASClient(gasTestConfig(secret), discardLogger())
	require.NoError(t, client.Trigger(context.Background(), server.URL, "INTEGRATION_1_abcd1234"))

	assert.True(t, security.VerifySignature([]byte(secret), gotBody, gotSignature))

	var req triggerRequest
	require.NoError(t, json.Unmarshal(gotBody, &req))
	assert.Equal(t, TriggerAction, req.Action)
	assert.Equal(t, "INTEGRATION_1_abcd1234", req.TestID)
}

func TestGASClient_TriggerWithoutSecretOmitsSignature(t *testing.T) {
	var sawSignature bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSignature = r.Header.Get(security.SignatureHeader) != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewGASClient(gasTestConfig(""), discardLogger())
	require.NoError(t, client.Trigger(context.Background(), server.URL, "INTEGRATION_1_abcd1234"))

	assert.False(t, sawSignature)
}

func TestGASClient_TriggerRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "script error", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewGASClient(gasTestConfig("secret"), discardLogger())
	err := client.Trigger(context.Background(), server.URL, "INTEGRATION_1_abcd1234")

	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrGASUnreachable)
	assert.Contains(t, err.Error(), "503")
}

func TestGASClient_TriggerUnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewGASClient(gasTestConfig("secret"), discardLogger())
	err := client.Trigger(context.Background(), server.URL, "INTEGRATION_1_abcd1234")

	assert.ErrorIs(t, err, apierrors.ErrGASUnreachable)
}

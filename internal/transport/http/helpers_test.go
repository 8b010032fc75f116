package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"sankeyhub/internal/config"
	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/integration"
	"sankeyhub/internal/license"
	"sankeyhub/internal/lifecycle"
	"sankeyhub/internal/services"
	"sankeyhub/internal/store"
	"sankeyhub/pkg/contracts/domain"
)

// validWebappURL passes the Apps Script deployment checks.
const validWebappURL = "https://script.google.com/macros/s/AKfycbxE2E/exec"

// stubGAS records trigger calls instead of calling out.
type stubGAS struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (g *stubGAS) Trigger(_ context.Context, _, testID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.calls = append(g.calls, testID)
	return nil
}

func (g *stubGAS) triggered() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// fixture wires real services over the in-memory store, so requests
// exercise the full decode, service and error mapping path.
type fixture struct {
	store        *store.MemoryStore
	machine      *lifecycle.Machine
	codec        *license.Codec
	gas          *stubGAS
	applications *services.ApplicationService
	integrations *services.IntegrationService
	profiles     *services.ProfileService
	export       *services.ExportService
	logger       *slog.Logger
	errors       *apierrors.ErrorHandler
}

// newFixture builds the service graph. notificationDelay is how far in the
// future approvals schedule their notification; a negative delay makes the
// cancellation window already closed.
func newFixture(t *testing.T, notificationDelay time.Duration) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	codec, err := license.NewCodec(bytes.Repeat([]byte{0x42}, license.KeySize))
	require.NoError(t, err)

	machine := lifecycle.NewMachine(st, codec, config.NotificationConfig{Delay: notificationDelay}, logger)
	tracker := integration.NewTracker(st, logger)
	gas := &stubGAS{}
	apps := services.NewApplicationService(st, machine, nil, logger)

	return &fixture{
		store:        st,
		machine:      machine,
		codec:        codec,
		gas:          gas,
		applications: apps,
		integrations: services.NewIntegrationService(tracker, gas, nil, config.IntegrationConfig{
			PollInterval:    time.Millisecond,
			MaxPollAttempts: 3,
			StepEstimate:    time.Second,
		}, logger),
		profiles: services.NewProfileService(st, logger),
		export:   services.NewExportService(apps, logger),
		logger:   logger,
		errors:   apierrors.NewErrorHandler(logger, false),
	}
}

// router assembles the handler tree the way the app mounts it.
func (f *fixture) router() chi.Router {
	r := chi.NewRouter()
	r.Mount("/api/applications", NewApplicationHandler(f.applications, f.export, f.logger, f.errors).Routes())
	r.Mount("/api/integration-tests", NewIntegrationHandler(f.integrations, f.logger, f.errors).Routes())
	r.Mount("/api/profile", NewProfileHandler(f.profiles, f.integrations, f.logger, f.errors).Routes())
	r.Mount("/api/webhooks", NewWebhookHandler(f.profiles, f.applications, f.integrations, f.logger, f.errors).Routes())
	r.Mount("/api/licenses", NewLicenseHandler(f.codec, f.logger, f.errors).Routes())
	return r
}

// seedApplication files one Pending application through the service.
func (f *fixture) seedApplication(t *testing.T, userID, accountNumber string) *domain.Application {
	t.Helper()
	app, err := f.applications.Create(context.Background(), domain.FormSubmission{
		UserID:        userID,
		AccountNumber: accountNumber,
		EAName:        "TrendRider",
		Broker:        "ICMarkets",
		Email:         "trader@example.com",
	})
	require.NoError(t, err)
	return app
}

// approveApplication seals a 30-day license through the service.
func (f *fixture) approveApplication(t *testing.T, app *domain.Application) *domain.Application {
	t.Helper()
	approved, err := f.applications.Approve(context.Background(), app.Ref(), domain.ApprovalInput{
		ExpiryDate: time.Now().Add(30 * 24 * time.Hour),
		Actor:      "reviewer",
	})
	require.NoError(t, err)
	return approved
}

// startTest begins an integration run through the service.
func (f *fixture) startTest(t *testing.T) string {
	t.Helper()
	test, _, err := f.integrations.Start(context.Background(), validWebappURL)
	require.NoError(t, err)
	return test.TestID
}

// reportStep records one harness step through the service.
func (f *fixture) reportStep(t *testing.T, testID string, step domain.TestStep, success bool) {
	t.Helper()
	_, err := f.integrations.RecordStep(context.Background(), domain.StepReport{
		TestID:  testID,
		Step:    step,
		Success: success,
	})
	require.NoError(t, err)
}

// appPath builds the application resource path for the given suffix.
func appPath(app *domain.Application, suffix string) string {
	return "/api/applications/" + app.UserID + "/" + store.ApplicationIDFromSK(app.SK) + suffix
}

// doRequest serves one request, marshaling body as JSON when present.
func doRequest(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// doRaw serves one request with a literal body, for malformed payloads.
func doRaw(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// decodeMap parses the recorded JSON response body.
func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

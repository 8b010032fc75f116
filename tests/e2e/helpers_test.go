// Package e2e exercises complete journeys over a running HTTP server:
// webhook ingestion, operator decisions, scheduled license delivery and
// integration test runs. Only the store and the outbound web app trigger
// are substituted; everything between the socket and the store is the
// real thing.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"sankeyhub/internal/config"
	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/integration"
	"sankeyhub/internal/license"
	"sankeyhub/internal/lifecycle"
	custommw "sankeyhub/internal/middleware"
	"sankeyhub/internal/notify"
	"sankeyhub/internal/scheduler"
	"sankeyhub/internal/security"
	"sankeyhub/internal/services"
	"sankeyhub/internal/store"
	transporthttp "sankeyhub/internal/transport/http"
	ws "sankeyhub/internal/websocket"
	"sankeyhub/pkg/contracts/domain"
)

const (
	// inboundSecret signs what the Apps Script side sends to the hub.
	inboundSecret = "e2e-inbound-secret"

	// notifySecret signs what the hub sends to the notification endpoint.
	notifySecret = "e2e-notify-secret"

	// appsScriptURL passes the web app deployment checks without ever
	// being dialed; outbound triggers go through the trigger seam.
	appsScriptURL = "https://script.google.com/macros/s/AKfycbxHubE2E/exec"
)

// world is one complete hub over in-memory storage: real services, real
// middleware, real HTTP and websocket transport.
type world struct {
	store       *store.MemoryStore
	codec       *license.Codec
	machine     *lifecycle.Machine
	sched       *scheduler.Scheduler
	hub         *ws.Hub
	trigger     *triggerSwitch
	sink        *notificationSink
	server      *httptest.Server
	client      *http.Client
	cancel      context.CancelFunc
	integration config.IntegrationConfig
}

// newWorld assembles and starts a hub instance. notificationDelay is how
// long approvals hold in AwaitingNotification before the scheduler fires.
func newWorld(t *testing.T, notificationDelay time.Duration, integrationCfg config.IntegrationConfig) *world {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := newNotificationSink(notifySecret)

	st := store.NewMemoryStore()
	codec, err := license.NewCodec(bytes.Repeat([]byte{0x5a}, license.KeySize))
	require.NoError(t, err)

	notifCfg := config.NotificationConfig{
		Mode:             "webhook",
		Delay:            notificationDelay,
		WebhookURL:       sink.server.URL,
		WebhookSecret:    notifySecret,
		Workers:          2,
		RecoveryInterval: time.Hour,
		ExpirySweep:      time.Hour,
	}
	notifier, err := notify.New(context.Background(), notifCfg, nil, logger)
	require.NoError(t, err)

	machine := lifecycle.NewMachine(st, codec, notifCfg, logger)
	sched := scheduler.New(st, machine, notifier, notifCfg, logger)
	machine.SetScheduler(sched)

	hub := ws.NewHub(logger)
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	w := &world{
		store:       st,
		codec:       codec,
		machine:     machine,
		sched:       sched,
		hub:         hub,
		trigger:     &triggerSwitch{},
		sink:        sink,
		cancel:      cancel,
		integration: integrationCfg,
	}
	w.server = httptest.NewServer(w.router(logger))
	w.client = w.server.Client()
	return w
}

// defaultIntegrationConfig keeps poll cycles short enough for tests while
// leaving a scripted harness room to report all four steps.
func defaultIntegrationConfig() config.IntegrationConfig {
	return config.IntegrationConfig{
		PollInterval:    20 * time.Millisecond,
		MaxPollAttempts: 50,
		StepEstimate:    250 * time.Millisecond,
	}
}

func (w *world) close() {
	w.server.Close()
	w.cancel()
	_ = w.sched.Stop(2 * time.Second)
	w.hub.Stop()
	w.sink.server.Close()
}

// router mounts the API tree the way the application does, including the
// signature gate in front of the webhook routes and the wider budget on
// the long-polling integration routes.
func (w *world) router(logger *slog.Logger) chi.Router {
	errorHandler := apierrors.NewErrorHandler(logger, true)
	validation := custommw.NewValidationMiddleware(logger, errorHandler)

	applications := services.NewApplicationService(w.store, w.machine, w.hub, logger)
	tracker := integration.NewTracker(w.store, logger)
	integrations := services.NewIntegrationService(tracker, w.trigger, w.hub, w.integration, logger)
	profiles := services.NewProfileService(w.store, logger)
	export := services.NewExportService(applications, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Get("/ws", func(rw http.ResponseWriter, req *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(rw, req, nil)
		if err != nil {
			return
		}
		ws.ServeWS(w.hub, conn, middleware.GetReqID(req.Context()))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(validation.ValidateRequest)
		r.NotFound(errorHandler.NotFound)
		r.MethodNotAllowed(errorHandler.MethodNotAllowed)

		r.Group(func(r chi.Router) {
			r.Use(custommw.Timeout(15*time.Second, logger))

			r.Mount("/applications", transporthttp.NewApplicationHandler(applications, export, logger, errorHandler).Routes())
			r.Mount("/profile", transporthttp.NewProfileHandler(profiles, integrations, logger, errorHandler).Routes())
			r.Mount("/licenses", transporthttp.NewLicenseHandler(w.codec, logger, errorHandler).Routes())

			r.Group(func(r chi.Router) {
				r.Use(custommw.WebhookSignature(inboundSecret, logger))
				r.Mount("/webhooks", transporthttp.NewWebhookHandler(profiles, applications, integrations, logger, errorHandler).Routes())
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(custommw.Timeout(w.waitBudget(), logger))
			r.Mount("/integration-tests", transporthttp.NewIntegrationHandler(integrations, logger, errorHandler).Routes())
		})
	})
	return r
}

// waitBudget mirrors the application's long-poll route budget.
func (w *world) waitBudget() time.Duration {
	return time.Duration(w.integration.MaxPollAttempts+5) * w.integration.PollInterval
}

// signedPost sends body to path carrying the inbound webhook signature.
func (w *world) signedPost(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, w.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.SignatureHeader, security.Sign([]byte(inboundSecret), data))
	resp, err := w.client.Do(req)
	require.NoError(t, err)
	return resp
}

// postJSON sends an unsigned JSON POST, for the operator-facing routes.
func (w *world) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, w.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	require.NoError(t, err)
	return resp
}

// get issues a GET against the running server.
func (w *world) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := w.client.Get(w.server.URL + path)
	require.NoError(t, err)
	return resp
}

// decodeBody unmarshals and closes an HTTP response body.
func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// submitForm plays the Apps Script form webhook for one applicant.
func (w *world) submitForm(t *testing.T, sub domain.FormSubmission) domain.Application {
	t.Helper()
	resp := w.signedPost(t, "/api/webhooks/form", sub)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var app domain.Application
	decodeBody(t, resp, &app)
	return app
}

// appPath builds the application resource path for the given suffix.
func appPath(app domain.Application, suffix string) string {
	return "/api/applications/" + app.UserID + "/" + store.ApplicationIDFromSK(app.SK) + suffix
}

// approve seals a license through the operator endpoint.
func (w *world) approve(t *testing.T, app domain.Application, expiry time.Time) domain.Application {
	t.Helper()
	resp := w.postJSON(t, appPath(app, "/approve"), domain.ApprovalInput{
		ExpiryDate: expiry,
		Actor:      "reviewer",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out domain.Application
	decodeBody(t, resp, &out)
	return out
}

// getApplication reads the current application state over HTTP.
func (w *world) getApplication(t *testing.T, app domain.Application) domain.Application {
	t.Helper()
	resp := w.get(t, appPath(app, ""))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out domain.Application
	decodeBody(t, resp, &out)
	return out
}

// history reads the transition audit trail, most recent first.
func (w *world) history(t *testing.T, app domain.Application) []domain.StatusChangeRecord {
	t.Helper()
	resp := w.get(t, appPath(app, "/history"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Items []domain.StatusChangeRecord `json:"items"`
		Count int                         `json:"count"`
	}
	decodeBody(t, resp, &out)
	return out.Items
}

// decode asks the hub to verify a license key for an account. Keys are
// base64 and must be query-escaped.
func (w *world) decode(t *testing.T, licenseKey, accountID string) domain.DecodeResult {
	t.Helper()
	q := url.Values{"license_key": {licenseKey}, "account_id": {accountID}}
	resp := w.get(t, "/api/licenses/decode?"+q.Encode())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out domain.DecodeResult
	decodeBody(t, resp, &out)
	return out
}

// getProfile reads a user profile over HTTP.
func (w *world) getProfile(t *testing.T, userID string) domain.UserProfile {
	t.Helper()
	resp := w.get(t, "/api/profile/"+userID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out domain.UserProfile
	decodeBody(t, resp, &out)
	return out
}

// triggerSwitch lets a test install its trigger after the server URL is
// known. With nothing installed, triggers succeed silently.
type triggerSwitch struct {
	mu sync.Mutex
	t  services.GASTrigger
}

func (s *triggerSwitch) Set(t services.GASTrigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t = t
}

func (s *triggerSwitch) Trigger(ctx context.Context, webappURL, testID string) error {
	s.mu.Lock()
	t := s.t
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Trigger(ctx, webappURL, testID)
}

// notificationSink plays the Apps Script mailer endpoint: it verifies the
// body signature and keeps every delivery for inspection.
type notificationSink struct {
	mu         sync.Mutex
	deliveries []notify.Notification
	badSig     int
	server     *httptest.Server
}

func newNotificationSink(secret string) *notificationSink {
	sink := &notificationSink{}
	sink.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !security.VerifySignature([]byte(secret), body, r.Header.Get(security.SignatureHeader)) {
			sink.mu.Lock()
			sink.badSig++
			sink.mu.Unlock()
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var n notify.Notification
		if err := json.Unmarshal(body, &n); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sink.mu.Lock()
		sink.deliveries = append(sink.deliveries, n)
		sink.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return sink
}

func (s *notificationSink) delivered() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Notification(nil), s.deliveries...)
}

func (s *notificationSink) rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.badSig
}

package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"sankeyhub/internal/security"
	"sankeyhub/pkg/contracts/domain"
)

// LifecycleSuite drives full application journeys over HTTP: webhook in,
// operator decisions, scheduled delivery out.
type LifecycleSuite struct {
	suite.Suite
	world *world
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) TearDownTest() {
	if s.world != nil {
		s.world.close()
		s.world = nil
	}
}

// boot starts a fresh hub with the given notification delay.
func (s *LifecycleSuite) boot(delay time.Duration) *world {
	s.world = newWorld(s.T(), delay, defaultIntegrationConfig())
	return s.world
}

func (s *LifecycleSuite) TestLicenseDeliveryJourney() {
	w := s.boot(80 * time.Millisecond)

	sub := domain.FormSubmission{
		UserID:        "dev-aurora",
		AccountNumber: "88104452",
		EAName:        "SankeyBreakout",
		Broker:        "Pepperstone",
		Email:         "aurora@example.com",
	}
	app := w.submitForm(s.T(), sub)
	s.Equal(domain.StatusPending, app.Status)
	s.Empty(app.LicenseKey)

	expiry := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)
	approved := w.approve(s.T(), app, expiry)
	s.Equal(domain.StatusAwaitingNotification, approved.Status)
	s.NotEmpty(approved.LicenseKey)
	s.Require().NotNil(approved.NotificationScheduledAt)

	s.Require().Eventually(func() bool {
		return w.getApplication(s.T(), app).Status == domain.StatusActive
	}, 3*time.Second, 25*time.Millisecond, "delivery never completed")

	deliveries := w.sink.delivered()
	s.Require().Len(deliveries, 1)
	s.Equal(sub.UserID, deliveries[0].UserID)
	s.Equal(sub.Email, deliveries[0].Email)
	s.Equal(approved.LicenseKey, deliveries[0].LicenseKey)
	s.Contains(deliveries[0].Subject, sub.EAName)
	s.Zero(w.sink.rejected())

	// The key the applicant received validates for their account and no
	// other.
	result := w.decode(s.T(), deliveries[0].LicenseKey, sub.AccountNumber)
	s.Equal(domain.VerdictValid, result.Verdict)
	s.Require().NotNil(result.Payload)
	s.Equal(sub.AccountNumber, result.Payload.AccountID)
	s.Equal(sub.EAName, result.Payload.EAName)

	result = w.decode(s.T(), deliveries[0].LicenseKey, "11111111")
	s.Equal(domain.VerdictTampered, result.Verdict)

	// First contact created the profile.
	profile := w.getProfile(s.T(), sub.UserID)
	s.Equal(sub.UserID, profile.UserID)

	// The audit trail reads most recent first.
	hist := w.history(s.T(), app)
	s.Require().Len(hist, 2)
	s.Equal(domain.StatusActive, hist[0].ToStatus)
	s.Equal(domain.StatusAwaitingNotification, hist[1].ToStatus)
	s.Equal("reviewer", hist[1].Actor)

	exportResp := w.get(s.T(), "/api/applications/"+sub.UserID+"/export?format=csv")
	s.Require().Equal(http.StatusOK, exportResp.StatusCode)
	s.Contains(exportResp.Header.Get("Content-Type"), "text/csv")
	s.Contains(exportResp.Header.Get("Content-Disposition"), ".csv")
	csv, err := io.ReadAll(exportResp.Body)
	exportResp.Body.Close()
	s.Require().NoError(err)
	s.Contains(string(csv), sub.AccountNumber)
}

func (s *LifecycleSuite) TestCancellationInsideWindow() {
	w := s.boot(time.Hour)

	app := w.submitForm(s.T(), domain.FormSubmission{
		UserID:        "dev-brook",
		AccountNumber: "20455713",
		EAName:        "MeanRevert",
		Broker:        "ICMarkets",
		Email:         "brook@example.com",
	})
	w.approve(s.T(), app, time.Now().Add(30*24*time.Hour))

	resp := w.postJSON(s.T(), appPath(app, "/cancel"), domain.CancelInput{Actor: "dev-brook"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var cancelled domain.Application
	decodeBody(s.T(), resp, &cancelled)
	s.Equal(domain.StatusCancelled, cancelled.Status)

	// The armed timer is gone and nothing was delivered.
	s.Zero(w.sched.ArmedCount())
	s.Empty(w.sink.delivered())

	hist := w.history(s.T(), app)
	s.Require().NotEmpty(hist)
	s.Equal(domain.StatusCancelled, hist[0].ToStatus)
	s.Equal("dev-brook", hist[0].Actor)
}

func (s *LifecycleSuite) TestRejectionBlocksLaterApproval() {
	w := s.boot(time.Hour)

	app := w.submitForm(s.T(), domain.FormSubmission{
		UserID:        "dev-cedar",
		AccountNumber: "31998204",
		EAName:        "NewsSpike",
		Broker:        "Pepperstone",
		Email:         "cedar@example.com",
	})

	resp := w.postJSON(s.T(), appPath(app, "/reject"), domain.RejectInput{
		Actor:  "reviewer",
		Reason: "demo account number",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var rejected domain.Application
	decodeBody(s.T(), resp, &rejected)
	s.Equal(domain.StatusRejected, rejected.Status)
	s.Empty(rejected.LicenseKey)
	s.Empty(w.sink.delivered())

	// Terminal states refuse further operator events.
	resp = w.postJSON(s.T(), appPath(app, "/approve"), domain.ApprovalInput{
		ExpiryDate: time.Now().Add(24 * time.Hour),
		Actor:      "reviewer",
	})
	s.Require().Equal(http.StatusConflict, resp.StatusCode)
	var problem map[string]interface{}
	decodeBody(s.T(), resp, &problem)
	s.Equal("Invalid Transition", problem["title"])
}

func (s *LifecycleSuite) TestWebhookSignatureGate() {
	w := s.boot(time.Hour)

	sub := domain.FormSubmission{
		UserID:        "dev-dune",
		AccountNumber: "47120955",
		EAName:        "GridRunner",
		Broker:        "FTMO",
		Email:         "dune@example.com",
	}
	data, err := json.Marshal(sub)
	s.Require().NoError(err)

	// No signature at all.
	req, err := http.NewRequest(http.MethodPost, w.server.URL+"/api/webhooks/form", bytes.NewReader(data))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	// Signed under the wrong secret.
	req, err = http.NewRequest(http.MethodPost, w.server.URL+"/api/webhooks/form", bytes.NewReader(data))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.SignatureHeader, security.Sign([]byte("someone-elses-secret"), data))
	resp, err = w.client.Do(req)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	// The integration webhook sits behind the same gate.
	resp, err = w.client.Post(w.server.URL+"/api/webhooks/integration", "application/json",
		strings.NewReader(`{"action":"updateTestStatus","testId":"t","step":"STARTED","success":true}`))
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	// A properly signed retry of the same body lands.
	app := w.submitForm(s.T(), sub)
	s.Equal(domain.StatusPending, app.Status)
}

func (s *LifecycleSuite) TestLapsedLicenseReadsExpired() {
	w := s.boot(10 * time.Millisecond)

	sub := domain.FormSubmission{
		UserID:        "dev-ember",
		AccountNumber: "56201847",
		EAName:        "LondonOpen",
		Broker:        "ICMarkets",
		Email:         "ember@example.com",
	}
	app := w.submitForm(s.T(), sub)
	approved := w.approve(s.T(), app, time.Now().Add(1*time.Second))

	s.Require().Eventually(func() bool {
		return w.getApplication(s.T(), app).Status == domain.StatusActive
	}, 900*time.Millisecond, 10*time.Millisecond, "delivery never completed")

	// Once the expiry date passes, reads flip the record over.
	s.Require().Eventually(func() bool {
		return w.getApplication(s.T(), app).Status == domain.StatusExpired
	}, 3*time.Second, 25*time.Millisecond, "lapsed license never expired")

	result := w.decode(s.T(), approved.LicenseKey, sub.AccountNumber)
	s.Equal(domain.VerdictExpired, result.Verdict)
	s.Require().NotNil(result.Payload)
	s.Equal(sub.AccountNumber, result.Payload.AccountID)

	hist := w.history(s.T(), app)
	s.Require().NotEmpty(hist)
	s.Equal(domain.StatusExpired, hist[0].ToStatus)
}

func (s *LifecycleSuite) TestStatusStreamAnnouncesTransitions() {
	w := s.boot(time.Hour)

	wsURL := "ws" + strings.TrimPrefix(w.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	s.Require().NoError(err)
	defer conn.Close()

	// The greeting doubles as the registration barrier: once it arrives,
	// later broadcasts cannot be missed.
	greeting := readEnvelope(s.T(), conn)
	s.Equal("connection", greeting.Type)

	app := w.submitForm(s.T(), domain.FormSubmission{
		UserID:        "dev-flint",
		AccountNumber: "61033492",
		EAName:        "AsianRange",
		Broker:        "Pepperstone",
		Email:         "flint@example.com",
	})

	env := readEnvelope(s.T(), conn)
	s.Equal("application:status", env.Type)
	var announced domain.Application
	s.Require().NoError(json.Unmarshal(env.Data, &announced))
	s.Equal(app.UserID, announced.UserID)
	s.Equal(domain.StatusPending, announced.Status)

	w.approve(s.T(), app, time.Now().Add(30*24*time.Hour))

	env = readEnvelope(s.T(), conn)
	s.Equal("application:status", env.Type)
	s.Require().NoError(json.Unmarshal(env.Data, &announced))
	s.Equal(domain.StatusAwaitingNotification, announced.Status)
	s.NotEmpty(announced.LicenseKey)
}

// wsEnvelope is the broadcast frame shape clients receive.
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env wsEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/integration"
	mw "sankeyhub/internal/middleware"
	"sankeyhub/internal/services"
	"sankeyhub/pkg/contracts/domain"
)

// IntegrationHandler exposes the integration-test tracking operations.
type IntegrationHandler struct {
	service      *services.IntegrationService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewIntegrationHandler creates an integration-test handler.
func NewIntegrationHandler(service *services.IntegrationService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *IntegrationHandler {
	return &IntegrationHandler{
		service:      service,
		logger:       logger.With(slog.String("handler", "integration")),
		errorHandler: errorHandler,
	}
}

// Routes returns the chi router for /api/integration-tests.
func (h *IntegrationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/", h.Start)
	r.Route("/{testID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/wait", h.Wait)
		r.Post("/steps", h.ReportStep)
	})

	return r
}

// startTestRequest is the body of POST /api/integration-tests.
type startTestRequest struct {
	GASWebappURL string `json:"gas_webapp_url"`
}

// startTestResponse returns the new test plus the polling budget hint.
type startTestResponse struct {
	TestID           string                `json:"test_id"`
	EstimatedSeconds int                   `json:"estimated_duration_seconds"`
	Test             domain.TestStatusView `json:"test"`
}

// Start handles POST /api/integration-tests. Creates the test record and
// fires the trigger request at the developer's web app.
func (h *IntegrationHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tracer := otel.Tracer("integration-handler")
	ctx, span := tracer.Start(ctx, "integration_handler.start",
		trace.WithAttributes(
			attribute.String("http.route", "/api/integration-tests"),
			attribute.String("request_id", middleware.GetReqID(ctx)),
		),
	)
	defer span.End()

	var req startTestRequest
	if err := render.Decode(r, &req); err != nil {
		span.RecordError(err)
		invalidJSON(w, r, err)
		return
	}

	test, estimate, err := h.service.Start(ctx, req.GASWebappURL)
	if err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("test_id", test.TestID))
	h.logger.InfoContext(ctx, "integration test started",
		slog.String("test_id", test.TestID),
		slog.Duration("estimated_duration", estimate))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, startTestResponse{
		TestID:           test.TestID,
		EstimatedSeconds: int(estimate.Seconds()),
		Test:             integration.StatusView(test),
	})
}

// Get handles GET /api/integration-tests/{testID}.
func (h *IntegrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	test, err := h.service.Get(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, integration.StatusView(test))
}

// ReportStep handles POST /api/integration-tests/{testID}/steps. The body
// is the same shape the harness webhook sends; the URL names the test.
func (h *IntegrationHandler) ReportStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	testID := chi.URLParam(r, "testID")

	var report domain.StepReport
	if err := render.Decode(r, &report); err != nil {
		invalidJSON(w, r, err)
		return
	}
	if report.TestID != "" && report.TestID != testID {
		h.errorHandler.HandleError(w, r, apierrors.NewValidation("testId", "does not match the test named in the URL"))
		return
	}
	report.TestID = testID

	test, err := h.service.RecordStep(ctx, report)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	mw.RecordStepMetrics(ctx, testID, string(report.Step), report.Success)
	h.logger.InfoContext(ctx, "step reported",
		slog.String("test_id", testID),
		slog.String("step", string(report.Step)),
		slog.Bool("success", report.Success))

	render.JSON(w, r, integration.StatusView(test))
}

// Wait handles GET /api/integration-tests/{testID}/wait. Blocks until the
// test completes or the polling budget runs out; the latter renders 408.
func (h *IntegrationHandler) Wait(w http.ResponseWriter, r *http.Request) {
	test, err := h.service.Wait(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, integration.StatusView(test))
}

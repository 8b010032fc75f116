package http

import (
	"fmt"
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

// WebhookHandler ingests events from the Apps Script side: form
// submissions and integration-test harness reports. Signature checking
// happens in middleware before these handlers run.
type WebhookHandler struct {
	profiles     *services.ProfileService
	applications *services.ApplicationService
	integrations *services.IntegrationService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(profiles *services.ProfileService, applications *services.ApplicationService, integrations *services.IntegrationService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *WebhookHandler {
	return &WebhookHandler{
		profiles:     profiles,
		applications: applications,
		integrations: integrations,
		logger:       logger.With(slog.String("handler", "webhook")),
		errorHandler: errorHandler,
	}
}

// Routes returns the chi router for /api/webhooks.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/form", h.Form)
	r.Post("/integration", h.Integration)

	return r
}

// Form handles POST /api/webhooks/form. A submission is first contact for
// new developers, so the profile is ensured before the application is
// created.
func (h *WebhookHandler) Form(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tracer := otel.Tracer("webhook-handler")
	ctx, span := tracer.Start(ctx, "webhook_handler.form",
		trace.WithAttributes(
			attribute.String("http.route", "/api/webhooks/form"),
			attribute.String("request_id", middleware.GetReqID(ctx)),
		),
	)
	defer span.End()

	var sub domain.FormSubmission
	if err := render.Decode(r, &sub); err != nil {
		span.RecordError(err)
		invalidJSON(w, r, err)
		return
	}
	if sub.UserID == "" {
		h.errorHandler.HandleError(w, r, apierrors.NewValidation("userId", "is required"))
		return
	}

	if _, err := h.profiles.Ensure(ctx, sub.UserID); err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	app, err := h.applications.Create(ctx, sub)
	if err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("application_sk", app.SK))
	h.logger.InfoContext(ctx, "form submission ingested",
		slog.String("user_id", app.UserID),
		slog.String("application_sk", app.SK),
		slog.String("ea_name", app.EAName))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, app)
}

// Integration handles POST /api/webhooks/integration. The harness sends
// {action, testId, step, success, details}; only updateTestStatus is a
// recognized action.
func (h *WebhookHandler) Integration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var report domain.StepReport
	if err := render.Decode(r, &report); err != nil {
		invalidJSON(w, r, err)
		return
	}

	if report.Action != domain.ActionUpdateTestStatus {
		h.errorHandler.HandleError(w, r, apierrors.NewValidation("action",
			fmt.Sprintf("%q is not a recognized action", report.Action)))
		return
	}
	if report.TestID == "" {
		h.errorHandler.HandleError(w, r, apierrors.NewValidation("testId", "is required"))
		return
	}

	test, err := h.integrations.RecordStep(ctx, report)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	mw.RecordStepMetrics(ctx, report.TestID, string(report.Step), report.Success)
	h.logger.InfoContext(ctx, "harness report ingested",
		slog.String("test_id", report.TestID),
		slog.String("step", string(report.Step)),
		slog.Bool("success", report.Success))

	render.JSON(w, r, integration.StatusView(test))
}

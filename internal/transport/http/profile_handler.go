package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/services"
	"sankeyhub/pkg/contracts/domain"
)

// ProfileHandler exposes developer profile operations.
type ProfileHandler struct {
	service      *services.ProfileService
	integrations *services.IntegrationService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewProfileHandler creates a profile handler.
func NewProfileHandler(service *services.ProfileService, integrations *services.IntegrationService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *ProfileHandler {
	return &ProfileHandler{
		service:      service,
		integrations: integrations,
		logger:       logger.With(slog.String("handler", "profile")),
		errorHandler: errorHandler,
	}
}

// Routes returns the chi router for /api/profile.
func (h *ProfileHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/phase", h.AdvancePhase)
		r.Post("/test-outcome", h.RecordTestOutcome)
	})

	return r
}

// Get handles GET /api/profile/{userID}. First contact creates the
// profile, so this never 404s for a well-formed user id.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Ensure(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, profile)
}

// AdvancePhase handles POST /api/profile/{userID}/phase. Phases advance
// one step at a time; anything else renders 409.
func (h *ProfileHandler) AdvancePhase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var req domain.PhaseChangeRequest
	if err := render.Decode(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}

	profile, err := h.service.AdvancePhase(ctx, userID, req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "setup phase advanced",
		slog.String("user_id", userID),
		slog.String("phase", string(profile.SetupPhase)))

	render.JSON(w, r, profile)
}

// testOutcomeRequest names the test whose summary should be snapshotted
// onto the profile.
type testOutcomeRequest struct {
	TestID string `json:"test_id"`
}

// RecordTestOutcome handles POST /api/profile/{userID}/test-outcome. The
// dashboard calls this after waiting out a test run; the test record
// itself carries no user id.
func (h *ProfileHandler) RecordTestOutcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var req testOutcomeRequest
	if err := render.Decode(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	if req.TestID == "" {
		h.errorHandler.HandleError(w, r, apierrors.NewValidation("test_id", "is required"))
		return
	}

	test, err := h.integrations.Get(ctx, req.TestID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	profile, err := h.service.RecordTestOutcome(ctx, userID, test)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "test outcome recorded",
		slog.String("user_id", userID),
		slog.String("test_id", req.TestID))

	render.JSON(w, r, profile)
}

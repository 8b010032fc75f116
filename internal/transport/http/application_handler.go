package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/services"
	"sankeyhub/internal/store"
	"sankeyhub/pkg/contracts/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ApplicationHandler exposes the application lifecycle operations.
type ApplicationHandler struct {
	service      *services.ApplicationService
	export       *services.ExportService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewApplicationHandler creates an application handler.
func NewApplicationHandler(service *services.ApplicationService, export *services.ExportService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *ApplicationHandler {
	return &ApplicationHandler{
		service:      service,
		export:       export,
		logger:       logger.With(slog.String("handler", "application")),
		errorHandler: errorHandler,
	}
}

// Routes returns the chi router for /api/applications.
func (h *ApplicationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/export", h.Export)

		r.Route("/{appID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Get("/history", h.History)
			r.Post("/approve", h.Approve)
			r.Post("/reject", h.Reject)
			r.Post("/cancel", h.Cancel)
			r.Post("/revoke", h.Revoke)
		})
	})

	return r
}

// refFromRequest builds the storage identity from the URL. The appID
// segment is the creation timestamp; the full sort key is accepted too.
func refFromRequest(r *http.Request) domain.ApplicationRef {
	return domain.ApplicationRef{
		UserID: chi.URLParam(r, "userID"),
		SK:     store.ApplicationSKFromID(chi.URLParam(r, "appID")),
	}
}

// Get handles GET /api/applications/{userID}/{appID}. Reading an Active
// application whose license has lapsed flips it to Expired first.
func (h *ApplicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	app, err := h.service.Get(r.Context(), refFromRequest(r))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, app)
}

// List handles GET /api/applications/{userID}?status=&cursor=&limit=.
func (h *ApplicationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")

	if status == "" {
		h.errorHandler.HandleError(w, r, apierrors.NewValidation("status", "query parameter is required"))
		return
	}

	var limit int32
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 0 {
			h.errorHandler.HandleError(w, r, apierrors.NewValidation("limit", "must be a non-negative integer"))
			return
		}
		limit = int32(parsed)
	}

	page, err := h.service.List(r.Context(), userID, status, cursor, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, page)
}

// historyResponse wraps an application's status-change records.
type historyResponse struct {
	Items []domain.StatusChangeRecord `json:"items"`
	Count int                         `json:"count"`
}

// History handles GET /api/applications/{userID}/{appID}/history, most
// recent change first.
func (h *ApplicationHandler) History(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.History(r.Context(), refFromRequest(r))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, historyResponse{Items: records, Count: len(records)})
}

// Approve handles POST /api/applications/{userID}/{appID}/approve.
func (h *ApplicationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref := refFromRequest(r)

	tracer := otel.Tracer("application-handler")
	ctx, span := tracer.Start(ctx, "application_handler.approve",
		trace.WithAttributes(
			attribute.String("http.route", "/api/applications/{userID}/{appID}/approve"),
			attribute.String("user_id", ref.UserID),
			attribute.String("request_id", middleware.GetReqID(ctx)),
		),
	)
	defer span.End()

	var input domain.ApprovalInput
	if err := render.Decode(r, &input); err != nil {
		span.RecordError(err)
		invalidJSON(w, r, err)
		return
	}

	app, err := h.service.Approve(ctx, ref, input)
	if err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("application.status", string(app.Status)))
	h.logger.InfoContext(ctx, "application approved",
		slog.String("user_id", ref.UserID),
		slog.String("application_sk", ref.SK),
		slog.String("actor", input.Actor))

	render.JSON(w, r, app)
}

// Reject handles POST /api/applications/{userID}/{appID}/reject.
func (h *ApplicationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref := refFromRequest(r)

	var input domain.RejectInput
	if err := render.Decode(r, &input); err != nil {
		invalidJSON(w, r, err)
		return
	}

	app, err := h.service.Reject(ctx, ref, input)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "application rejected",
		slog.String("user_id", ref.UserID),
		slog.String("application_sk", ref.SK),
		slog.String("actor", input.Actor))

	render.JSON(w, r, app)
}

// Cancel handles POST /api/applications/{userID}/{appID}/cancel. Only
// admitted while the notification window is still open.
func (h *ApplicationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref := refFromRequest(r)

	var input domain.CancelInput
	if err := render.Decode(r, &input); err != nil {
		invalidJSON(w, r, err)
		return
	}

	app, err := h.service.Cancel(ctx, ref, input)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "application cancelled",
		slog.String("user_id", ref.UserID),
		slog.String("application_sk", ref.SK),
		slog.String("actor", input.Actor))

	render.JSON(w, r, app)
}

// Revoke handles POST /api/applications/{userID}/{appID}/revoke.
func (h *ApplicationHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref := refFromRequest(r)

	var input domain.RevokeInput
	if err := render.Decode(r, &input); err != nil {
		invalidJSON(w, r, err)
		return
	}

	app, err := h.service.Revoke(ctx, ref, input)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "application revoked",
		slog.String("user_id", ref.UserID),
		slog.String("application_sk", ref.SK),
		slog.String("actor", input.Actor),
		slog.String("reason", input.Reason))

	render.JSON(w, r, app)
}

// Export handles GET /api/applications/{userID}/export. Streams the
// user's applications as an xlsx workbook, or as CSV with ?format=csv.
func (h *ApplicationHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var (
		data        []byte
		filename    string
		contentType string
		err         error
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "xlsx":
		data, filename, err = h.export.ApplicationsXLSX(r.Context(), userID)
		contentType = xlsxContentType
	case "csv":
		data, filename, err = h.export.ApplicationsCSV(r.Context(), userID)
		contentType = "text/csv; charset=utf-8"
	default:
		h.errorHandler.HandleError(w, r, apierrors.NewValidation("format", "must be xlsx or csv"))
		return
	}
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.WarnContext(r.Context(), "export write interrupted",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
}

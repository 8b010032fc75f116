package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/license"
	mw "sankeyhub/internal/middleware"
)

// LicenseHandler exposes the offline license diagnostic. Decoding never
// touches the store, so the handler talks to the codec directly.
type LicenseHandler struct {
	codec        *license.Codec
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(codec *license.Codec, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *LicenseHandler {
	return &LicenseHandler{
		codec:        codec,
		logger:       logger.With(slog.String("handler", "license")),
		errorHandler: errorHandler,
	}
}

// Routes returns the chi router for /api/licenses.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/decode", h.Decode)

	return r
}

// Decode handles GET /api/licenses/decode. The verdict is the diagnosis:
// an expired or tampered key is still a 200 response, because the query
// itself succeeded.
func (h *LicenseHandler) Decode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	licenseKey := r.URL.Query().Get("license_key")
	accountID := r.URL.Query().Get("account_id")
	if licenseKey == "" {
		h.errorHandler.HandleError(w, r, apierrors.NewValidation("license_key", "query parameter is required"))
		return
	}
	if accountID == "" {
		h.errorHandler.HandleError(w, r, apierrors.NewValidation("account_id", "query parameter is required"))
		return
	}

	start := time.Now()
	result := h.codec.Decode(licenseKey, accountID)
	mw.RecordDecodeMetrics(ctx, string(result.Verdict), time.Since(start))

	h.logger.InfoContext(ctx, "license decoded",
		slog.String("account_id", accountID),
		slog.String("verdict", string(result.Verdict)))

	render.JSON(w, r, result)
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "sankeyhub/internal/errors"
)

// invalidJSON renders the RFC 7807 response for an unparseable request body.
func invalidJSON(w http.ResponseWriter, r *http.Request, err error) {
	problem := apierrors.NewProblemDetails(
		http.StatusBadRequest,
		apierrors.TypeInvalidRequest,
		"Invalid Request",
		err.Error(),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

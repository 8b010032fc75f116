package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Problem type URIs. Clients switch on these, so they are part of the API
// contract and never change between releases.
const (
	TypeValidation      = "/errors/validation"
	TypeInvalidRequest  = "/errors/invalid-request"
	TypeNotFound        = "/errors/not-found"
	TypeUnauthorized    = "/errors/unauthorized"
	TypeForbidden       = "/errors/forbidden"
	TypeRateLimit       = "/errors/rate-limit"
	TypeInternal        = "/errors/internal"
	TypeServiceDown     = "/errors/service-unavailable"
	TypeTimeout         = "/errors/timeout"
	TypeConflict        = "/errors/conflict"
	TypePayloadTooLarge = "/errors/payload-too-large"
)

// Lifecycle-specific problem types, one per failure mode a client can act on.
const (
	TypeInvalidTransition = "/errors/application/invalid-transition"
	TypeWindowExpired     = "/errors/application/window-expired"
	TypeDuplicateAccount  = "/errors/application/duplicate-account"
	TypeLicenseDecode     = "/errors/license/decode-failed"
	TypeTestNotFound      = "/errors/integration-test/not-found"
	TypeWebSocketUpgrade  = "/errors/websocket/upgrade-failed"
)

// ErrorHandler turns every error that escapes a handler into an RFC 7807
// response. One instance is shared across all HTTP handlers so the mapping
// from error to status stays in a single place.
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler builds the shared handler. includeStack attaches stack
// traces to responses and should only be on in development.
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError logs err with its request context and writes the mapped
// problem document. A nil err writes nothing.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	h.logger.ErrorContext(r.Context(), "request failed",
		slog.String("error", err.Error()),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)
	if h.includeStack {
		problem.WithExtension("stack", string(debug.Stack()))
	}

	render.Render(w, r, problem)
}

// ErrorToProblem maps an error to a problem document. Typed errors are
// matched first, then store sentinels, then message sniffing as the legacy
// fallback for errors that predate the typed hierarchy.
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			r.URL.Path,
		)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	if pd := h.domainErrorToProblem(err, r); pd != nil {
		return pd
	}

	switch {
	case errors.Is(err, ErrItemNotFound) || strings.Contains(err.Error(), "not found"):
		return NewProblemDetails(
			http.StatusNotFound,
			TypeNotFound,
			"Resource Not Found",
			err.Error(),
			r.URL.Path,
		)

	case errors.Is(err, ErrConditionFailed):
		return NewProblemDetails(
			http.StatusConflict,
			TypeConflict,
			"Concurrent Update Conflict",
			err.Error(),
			r.URL.Path,
		)

	case errors.Is(err, ErrPollTimeout):
		return NewProblemDetails(
			http.StatusRequestTimeout,
			TypeTimeout,
			"Poll Timeout",
			"The integration test did not complete within the polling budget.",
			r.URL.Path,
		)

	case errors.Is(err, ErrGASUnreachable):
		return NewProblemDetails(
			http.StatusBadGateway,
			TypeServiceDown,
			"Web App Unreachable",
			err.Error(),
			r.URL.Path,
		)

	case strings.Contains(err.Error(), "unauthorized"):
		return NewProblemDetails(
			http.StatusUnauthorized,
			TypeUnauthorized,
			"Unauthorized",
			"Authentication required to access this resource",
			r.URL.Path,
		)

	case strings.Contains(err.Error(), "forbidden"):
		return NewProblemDetails(
			http.StatusForbidden,
			TypeForbidden,
			"Forbidden",
			"You don't have permission to access this resource",
			r.URL.Path,
		)

	case strings.Contains(err.Error(), "rate limit"):
		return NewProblemDetails(
			http.StatusTooManyRequests,
			TypeRateLimit,
			"Rate Limit Exceeded",
			"Too many requests. Please try again later.",
			r.URL.Path,
		).WithExtension("retry_after", 60)

	case strings.Contains(err.Error(), "conflict"):
		return NewProblemDetails(
			http.StatusConflict,
			TypeConflict,
			"Conflict",
			err.Error(),
			r.URL.Path,
		)

	case strings.Contains(err.Error(), "payload too large"):
		return NewProblemDetails(
			http.StatusRequestEntityTooLarge,
			TypePayloadTooLarge,
			"Payload Too Large",
			"The request body exceeds the maximum allowed size",
			r.URL.Path,
		)

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request",
			r.URL.Path,
		)
	}
}

// domainErrorToProblem handles the typed lifecycle errors, which carry their
// own status codes and extensions. Returns nil when err is none of them.
func (h *ErrorHandler) domainErrorToProblem(err error, r *http.Request) *ProblemDetails {
	var (
		invalidTransition *InvalidTransitionError
		conflictErr       *ConflictError
		windowExpired     *WindowExpiredError
		decodeErr         *DecodeError
		notFoundErr       *NotFoundError
		validationErr     *ValidationError
	)
	if !errors.As(err, &invalidTransition) && !errors.As(err, &conflictErr) &&
		!errors.As(err, &windowExpired) && !errors.As(err, &decodeErr) &&
		!errors.As(err, &notFoundErr) && !errors.As(err, &validationErr) {
		return nil
	}
	pd, ok := MapDomainError(err, middleware.GetReqID(r.Context()), r.URL.Path).(*ProblemDetails)
	if !ok {
		return nil
	}
	return pd
}

func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case "VALIDATION_FAILED":
		problemType = TypeValidation
	case "INVALID_REQUEST", "INVALID_JSON":
		problemType = TypeInvalidRequest
	case "PAYLOAD_TOO_LARGE":
		problemType = TypePayloadTooLarge
	case "NOT_FOUND", "APPLICATION_NOT_FOUND", "TEST_NOT_FOUND":
		problemType = TypeNotFound
	case "UNAUTHORIZED", "INVALID_SIGNATURE":
		problemType = TypeUnauthorized
	case "FORBIDDEN":
		problemType = TypeForbidden
	case "CONFLICT":
		problemType = TypeConflict
	case "WINDOW_EXPIRED":
		problemType = TypeWindowExpired
	case "RATE_LIMIT_EXCEEDED":
		problemType = TypeRateLimit
	case "SERVICE_UNAVAILABLE":
		problemType = TypeServiceDown
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}
	return problem
}

// HandlePanic logs the recovered value with its stack and answers 500. The
// stack always goes to the log; it only reaches the response when
// includeStack is on.
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	reqID := middleware.GetReqID(r.Context())
	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", reqID)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", string(debug.Stack()))
	}

	render.Render(w, r, problem)
}

// NotFound is the router's fallback for unmatched paths.
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// MethodNotAllowed is the router's fallback for matched paths with the
// wrong verb.
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeInternal,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// Middleware converts panics anywhere below it into 500 problem documents
// and logs every error status the chain produces.
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &statusLoggingWriter{
			ResponseWriter: w,
			handler:        h,
			request:        r,
		}

		defer func() {
			if err := recover(); err != nil {
				h.HandlePanic(ww, r, err)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

// statusLoggingWriter notes the first status written so error responses can
// be logged even when a handler writes them directly.
type statusLoggingWriter struct {
	http.ResponseWriter
	handler *ErrorHandler
	request *http.Request
	written bool
}

func (w *statusLoggingWriter) WriteHeader(status int) {
	if w.written {
		return
	}
	w.written = true

	if status >= 400 {
		w.handler.logger.WarnContext(w.request.Context(), "error response",
			slog.Int("status", status),
			slog.String("path", w.request.URL.Path),
			slog.String("method", w.request.Method),
		)
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusLoggingWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

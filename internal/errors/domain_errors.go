package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// Sentinel errors shared across layers
var (
	// ErrConditionFailed is returned by the store when a conditional write
	// loses to a concurrent update. Callers retry a bounded number of times
	// before surfacing a ConflictError.
	ErrConditionFailed = errors.New("conditional write failed")

	// ErrItemNotFound is returned by the store when the requested item
	// does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrPollTimeout is returned when a bounded completion poll exhausts
	// its attempts without observing a terminal state.
	ErrPollTimeout = errors.New("poll attempts exhausted")

	// ErrGASUnreachable is returned when a GAS web app cannot be reached
	// or refuses a trigger request.
	ErrGASUnreachable = errors.New("web app unreachable")
)

// InvalidTransitionError reports an application lifecycle event that is not
// admitted from the entity's current status. It carries enough context to
// diagnose out-of-order webhook deliveries.
type InvalidTransitionError struct {
	Ref     string
	Event   string
	Current string
	Reason  string
}

// Error implements the error interface
func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition: event %q not allowed from status %q for %s: %s",
			e.Event, e.Current, e.Ref, e.Reason)
	}
	return fmt.Sprintf("invalid transition: event %q not allowed from status %q for %s",
		e.Event, e.Current, e.Ref)
}

// NewInvalidTransition creates an InvalidTransitionError
func NewInvalidTransition(ref, event, current string) *InvalidTransitionError {
	return &InvalidTransitionError{Ref: ref, Event: event, Current: current}
}

// WithReason attaches a human-readable cause to the transition error
func (e *InvalidTransitionError) WithReason(reason string) *InvalidTransitionError {
	e.Reason = reason
	return e
}

// ConflictError reports that an optimistic write kept losing to concurrent
// updates after the bounded retry budget was spent.
type ConflictError struct {
	Ref      string
	Attempts int
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s still contended after %d attempts", e.Ref, e.Attempts)
}

// Unwrap lets errors.Is treat a ConflictError as a condition failure
func (e *ConflictError) Unwrap() error {
	return ErrConditionFailed
}

// NewConflict creates a ConflictError
func NewConflict(ref string, attempts int) *ConflictError {
	return &ConflictError{Ref: ref, Attempts: attempts}
}

// WindowExpiredError reports a cancellation attempted at or after the
// scheduled notification time.
type WindowExpiredError struct {
	Ref         string
	ScheduledAt time.Time
}

// Error implements the error interface
func (e *WindowExpiredError) Error() string {
	return fmt.Sprintf("cancellation window expired for %s: notification was scheduled at %s",
		e.Ref, e.ScheduledAt.Format(time.RFC3339))
}

// NewWindowExpired creates a WindowExpiredError
func NewWindowExpired(ref string, scheduledAt time.Time) *WindowExpiredError {
	return &WindowExpiredError{Ref: ref, ScheduledAt: scheduledAt}
}

// DecodeError reports a license key that failed to decode or verify.
// Verdict carries the codec's reason code (Tampered, KeyError, ...).
type DecodeError struct {
	Verdict string
	Message string
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("license decode failed (%s): %s", e.Verdict, e.Message)
	}
	return fmt.Sprintf("license decode failed (%s)", e.Verdict)
}

// NewDecodeError creates a DecodeError with a codec reason code
func NewDecodeError(verdict, message string) *DecodeError {
	return &DecodeError{Verdict: verdict, Message: message}
}

// NotFoundError reports a missing entity by kind and identifier
type NotFoundError struct {
	Kind string
	ID   string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Unwrap lets errors.Is treat a NotFoundError as an item miss
func (e *NotFoundError) Unwrap() error {
	return ErrItemNotFound
}

// NewNotFound creates a NotFoundError
func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ValidationError reports a request or event that failed input validation
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapDomainError maps typed domain errors to HTTP problem details
func MapDomainError(err error, traceID, instance string) render.Renderer {
	var (
		invalidTransition *InvalidTransitionError
		conflict          *ConflictError
		windowExpired     *WindowExpiredError
		decodeErr         *DecodeError
		notFound          *NotFoundError
		validation        *ValidationError
	)

	switch {
	case errors.As(err, &invalidTransition):
		return NewProblemDetails(
			http.StatusConflict,
			TypeInvalidTransition,
			"Invalid Transition",
			invalidTransition.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INVALID_TRANSITION").
			WithExtension("entity", invalidTransition.Ref).
			WithExtension("attempted_event", invalidTransition.Event).
			WithExtension("current_status", invalidTransition.Current)

	case errors.As(err, &windowExpired):
		return NewProblemDetails(
			http.StatusGone,
			TypeWindowExpired,
			"Cancellation Window Expired",
			windowExpired.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "WINDOW_EXPIRED").
			WithExtension("entity", windowExpired.Ref).
			WithExtension("notification_scheduled_at", windowExpired.ScheduledAt.Format(time.RFC3339))

	case errors.As(err, &conflict):
		return NewProblemDetails(
			http.StatusConflict,
			TypeConflict,
			"Concurrent Update Conflict",
			conflict.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "CONFLICT").
			WithExtension("entity", conflict.Ref).
			WithExtension("attempts", conflict.Attempts)

	case errors.As(err, &decodeErr):
		return NewProblemDetails(
			http.StatusBadRequest,
			TypeLicenseDecode,
			"License Decode Failed",
			decodeErr.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "DECODE_FAILED").
			WithExtension("verdict", decodeErr.Verdict)

	case errors.As(err, &notFound):
		return NewProblemDetails(
			http.StatusNotFound,
			TypeNotFound,
			"Resource Not Found",
			notFound.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "NOT_FOUND").
			WithExtension("kind", notFound.Kind)

	case errors.As(err, &validation):
		return NewProblemDetails(
			http.StatusUnprocessableEntity,
			TypeValidation,
			"Validation Failed",
			validation.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "VALIDATION_FAILED").
			WithExtension("field", validation.Field)

	case errors.Is(err, ErrItemNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			TypeNotFound,
			"Resource Not Found",
			err.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "NOT_FOUND")

	case errors.Is(err, ErrConditionFailed):
		return NewProblemDetails(
			http.StatusConflict,
			TypeConflict,
			"Concurrent Update Conflict",
			err.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "CONFLICT")

	case errors.Is(err, ErrPollTimeout):
		return NewProblemDetails(
			http.StatusRequestTimeout,
			TypeTimeout,
			"Poll Timeout",
			err.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "POLL_TIMEOUT")

	case errors.Is(err, ErrGASUnreachable):
		return NewProblemDetails(
			http.StatusBadGateway,
			TypeServiceDown,
			"Web App Unreachable",
			err.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "GAS_UNREACHABLE")

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}

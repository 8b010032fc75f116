// Package http implements the HTTP handlers of the license hub API.
// It is a thin layer between chi routing and the service layer: handlers
// parse and validate requests, delegate to services, and format responses.
//
// Every error leaving a handler is rendered as an RFC 7807 problem
// document through the shared ErrorHandler, so status mapping lives in one
// place:
//
//	InvalidTransitionError, ConflictError  → 409
//	WindowExpiredError                     → 410
//	ValidationError                        → 422
//	NotFoundError, ErrItemNotFound         → 404
//	ErrPollTimeout                         → 408
//	ErrGASUnreachable                      → 502
//
// Handlers own no business logic and no persistence; anything beyond
// request plumbing belongs in internal/services.
package http

package config

import "time"

// Application constants for the Sankey EA License Hub
const (
	// Application Info
	AppName   = "Sankey EA License Hub"
	AppVendor = "Sankey Trading Systems"

	// Retention bounds for terminal application records (months)
	MinRetentionMonths = 1
	MaxRetentionMonths = 60

	// Integration test identifiers
	TestIDPrefix       = "INTEGRATION"
	TestIDRandomLength = 8

	// Optimistic concurrency
	DefaultConditionalRetries = 3

	// Rate Limiting
	DefaultRateLimit     = 100 // requests per minute
	DefaultBurstSize     = 50
	WebhookRateLimit     = 30 // webhook posts per minute per source
	DecodeEndpointLimit  = 10 // decode calls per minute

	// Network Timeouts
	DefaultHTTPTimeout  = 30 * time.Second
	AppsScriptTimeout   = 45 * time.Second
	NotifierSendTimeout = 20 * time.Second
	WebSocketPingPeriod = 30 * time.Second
	WebSocketPongWait   = 60 * time.Second

	// Log Settings
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "json"
	MaxLogFileSize    = 100 * 1024 * 1024 // 100MB
	MaxLogFileAge     = 30                // days
	MaxLogFileBackups = 10

	// Error Messages
	ErrDuplicateAccount  = "An application for this broker account is already in progress."
	ErrCancelWindowOver  = "The cancellation window has closed; the license notification is being sent."
	ErrApplicationLocked = "The application was modified concurrently. Please retry."

	// Success Messages
	MsgApplicationApproved = "Application approved. The applicant will be notified after the cancellation window."
	MsgApplicationCanceled = "Application cancelled. No notification will be sent."
)

// URLs and Endpoints
const (
	// Google Apps Script Endpoints
	GoogleAppsScriptBaseURL = "https://script.google.com"
	GoogleAppsScriptDomain  = "script.google.com"
	GoogleUserContentDomain = "script.googleusercontent.com"

	// API Endpoints (internal)
	APIBasePath          = "/api"
	ApplicationsEndpoint = "/api/applications"
	TestsEndpoint        = "/api/integration-tests"
	ProfileEndpoint      = "/api/profile"
	WebhooksEndpoint     = "/api/webhooks"
	HealthEndpoint       = "/healthz"
	MetricsEndpoint      = "/metrics"

	// WebSocket Endpoints
	WebSocketEndpoint = "/ws"
)

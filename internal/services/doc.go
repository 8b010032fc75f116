// Package services implements the business logic layer of the license hub.
// It sits between the HTTP handlers and the persistence and lifecycle
// packages, so that business rules live in one testable place.
//
// # Architecture
//
// Services follow these principles:
//
//	1. Constructor injection for store, machine and logger
//	2. Context propagation on every operation
//	3. Input validation at the service boundary, with struct tags
//	4. Typed domain errors the transport layer maps to problem details
//	5. Optimistic conditional writes with bounded retries
//
// # Available Services
//
//	- ApplicationService: intake, reads with lazy expiry, listings,
//	  history and the operator transitions
//	- IntegrationService: test runs, trigger, step reports, bounded
//	  completion polling
//	- ProfileService: first-contact creation, phase progression, test
//	  outcome summaries
//	- ExportService: operator spreadsheet downloads
//	- HealthService: component checks and build info
//
// Live updates flow through the Broadcaster interface; a nil broadcaster
// simply disables the feed.
package services

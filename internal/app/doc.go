// Package app wires the license hub together: configuration, logging and
// telemetry, the DynamoDB store, the license codec, the lifecycle machine
// with its notification scheduler, the websocket hub and the HTTP server.
//
// # Initialization Flow
//
// NewApplication builds the graph bottom-up:
//
//	1. Load configuration from environment and config file
//	2. Initialize structured logging and OpenTelemetry
//	3. Create the DynamoDB client and store
//	4. Derive the license master key and build the codec
//	5. Build the notifier, lifecycle machine and scheduler
//	6. Construct the request-facing services
//	7. Assemble the router and the HTTP server
//
// Nothing listens or spawns goroutines until Start. Run adds signal
// handling on top and blocks until SIGINT or SIGTERM.
//
// # Shutdown
//
// Stop drains in reverse order: the listener first so no new work
// arrives, then the scheduler with its armed timers, then the websocket
// hub and the telemetry pipeline. Initialization errors are returned to
// the caller; the package never calls os.Exit.
package app

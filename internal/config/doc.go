// Package config provides centralized configuration management for the
// Sankey EA License Hub. It handles loading configuration from multiple
// sources, validation, and provides a type-safe API for accessing
// configuration values throughout the application.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. Configuration files (YAML)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern SANKEY_* for namespacing:
//
//	SANKEY_SERVER_PORT=8080
//	SANKEY_DYNAMO_TABLE=sankey-licenses
//	SANKEY_DYNAMO_ENDPOINT=http://localhost:4566
//	SANKEY_NOTIFICATION_DELAY=1h
//	SANKEY_LICENSE_MASTER_KEY=<base64 32 bytes>
//	SANKEY_LOGGING_LEVEL=info
//
// # Validation
//
// All configuration is validated at load time to ensure:
//
//	- Required fields are present
//	- Values are within acceptable ranges (e.g. retention months 1-60)
//	- The license master key, when set, decodes to exactly 32 bytes
//	- The notification mode names a known notifier
//
// # Usage
//
// Load configuration at application startup:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// For testing, use config.Default() to create a configuration with
// sensible defaults that don't require environment variables or external
// resources.
package config

package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" envconfig:"SERVER"`
	Security     SecurityConfig     `yaml:"security" envconfig:"SECURITY"`
	Logging      LoggingConfig      `yaml:"logging" envconfig:"LOGGING"`
	Dynamo       DynamoConfig       `yaml:"dynamo" envconfig:"DYNAMO"`
	Notification NotificationConfig `yaml:"notification" envconfig:"NOTIFICATION"`
	Integration  IntegrationConfig  `yaml:"integration" envconfig:"INTEGRATION"`
	License      LicenseConfig      `yaml:"license" envconfig:"LICENSE"`
	WebSocket    WebSocketConfig    `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"60s"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	WebhookSecret  string          `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"true"`
}

// DynamoConfig contains DynamoDB storage configuration
type DynamoConfig struct {
	Region          string `yaml:"region" envconfig:"REGION" default:"us-east-1"`
	Endpoint        string `yaml:"endpoint" envconfig:"ENDPOINT"`
	Table           string `yaml:"table" envconfig:"TABLE" default:"sankey-licenses"`
	RetentionMonths int    `yaml:"retention_months" envconfig:"RETENTION_MONTHS" default:"12"`
}

// NotificationConfig contains notification scheduling configuration
type NotificationConfig struct {
	Mode             string        `yaml:"mode" envconfig:"MODE" default:"noop"`
	Delay            time.Duration `yaml:"delay" envconfig:"DELAY" default:"1h"`
	WebhookURL       string        `yaml:"webhook_url" envconfig:"WEBHOOK_URL"`
	WebhookSecret    string        `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
	GmailSender      string        `yaml:"gmail_sender" envconfig:"GMAIL_SENDER"`
	GmailCredentials string        `yaml:"gmail_credentials" envconfig:"GMAIL_CREDENTIALS"`
	Workers          int           `yaml:"workers" envconfig:"WORKERS" default:"2"`
	RecoveryInterval time.Duration `yaml:"recovery_interval" envconfig:"RECOVERY_INTERVAL" default:"5m"`
	ExpirySweep      time.Duration `yaml:"expiry_sweep" envconfig:"EXPIRY_SWEEP" default:"1h"`
}

// IntegrationConfig contains integration test configuration
type IntegrationConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" default:"2s"`
	MaxPollAttempts   int           `yaml:"max_poll_attempts" envconfig:"MAX_POLL_ATTEMPTS" default:"30"`
	StepEstimate      time.Duration `yaml:"step_estimate" envconfig:"STEP_ESTIMATE" default:"15s"`
	GASRequestTimeout time.Duration `yaml:"gas_request_timeout" envconfig:"GAS_REQUEST_TIMEOUT" default:"45s"`
	GASSharedSecret   string        `yaml:"gas_shared_secret" envconfig:"GAS_SHARED_SECRET"`
}

// LicenseConfig contains license codec configuration
type LicenseConfig struct {
	MasterKey  string `yaml:"master_key" envconfig:"MASTER_KEY"`
	Passphrase string `yaml:"passphrase" envconfig:"PASSPHRASE"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" default:"1024"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process("SANKEY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Load from config file if exists
	configFile := getConfigFilePath()
	if configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Dynamo.Table == "" {
		envConfig.Dynamo.Table = fileConfig.Dynamo.Table
	}
	if envConfig.Dynamo.Endpoint == "" {
		envConfig.Dynamo.Endpoint = fileConfig.Dynamo.Endpoint
	}
	if envConfig.Security.WebhookSecret == "" {
		envConfig.Security.WebhookSecret = fileConfig.Security.WebhookSecret
	}
	if envConfig.Notification.WebhookURL == "" {
		envConfig.Notification.WebhookURL = fileConfig.Notification.WebhookURL
	}
	if envConfig.Notification.GmailSender == "" {
		envConfig.Notification.GmailSender = fileConfig.Notification.GmailSender
	}
	if envConfig.Notification.GmailCredentials == "" {
		envConfig.Notification.GmailCredentials = fileConfig.Notification.GmailCredentials
	}
	if envConfig.Integration.GASSharedSecret == "" {
		envConfig.Integration.GASSharedSecret = fileConfig.Integration.GASSharedSecret
	}
	if envConfig.License.MasterKey == "" {
		envConfig.License.MasterKey = fileConfig.License.MasterKey
	}
	if envConfig.License.Passphrase == "" {
		envConfig.License.Passphrase = fileConfig.License.Passphrase
	}

	return envConfig
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if c.Dynamo.Table == "" {
		return fmt.Errorf("dynamo table name must be set")
	}

	if c.Dynamo.RetentionMonths < MinRetentionMonths || c.Dynamo.RetentionMonths > MaxRetentionMonths {
		return fmt.Errorf("retention months must be between %d and %d, got %d",
			MinRetentionMonths, MaxRetentionMonths, c.Dynamo.RetentionMonths)
	}

	switch c.Notification.Mode {
	case "noop", "webhook", "gmail":
	default:
		return fmt.Errorf("unsupported notification mode: %s", c.Notification.Mode)
	}

	if c.Notification.Mode == "webhook" && c.Notification.WebhookURL == "" {
		return fmt.Errorf("notification webhook URL must be set in webhook mode")
	}

	if c.Notification.Delay <= 0 {
		return fmt.Errorf("notification delay must be positive")
	}

	if c.Notification.Workers <= 0 {
		return fmt.Errorf("notification workers must be positive")
	}

	if c.Integration.PollInterval <= 0 {
		return fmt.Errorf("integration poll interval must be positive")
	}

	if c.Integration.MaxPollAttempts <= 0 {
		return fmt.Errorf("integration max poll attempts must be positive")
	}

	if c.License.MasterKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.License.MasterKey)
		if err != nil {
			return fmt.Errorf("license master key must be base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("license master key must decode to 32 bytes, got %d", len(key))
		}
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	// Check for config file in common locations
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  60 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Output:      "console",
			FilePath:    "logs/app.log",
			Development: true,
		},
		Dynamo: DynamoConfig{
			Region:          "us-east-1",
			Table:           "sankey-licenses",
			RetentionMonths: 12,
		},
		Notification: NotificationConfig{
			Mode:             "noop",
			Delay:            time.Hour,
			Workers:          2,
			RecoveryInterval: 5 * time.Minute,
			ExpirySweep:      time.Hour,
		},
		Integration: IntegrationConfig{
			PollInterval:      2 * time.Second,
			MaxPollAttempts:   30,
			StepEstimate:      15 * time.Second,
			GASRequestTimeout: 45 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Package config defines the global configuration structure for the FarmSight
// platform. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast).
package config

import (
	"time"

	"farmsight/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the FarmSight platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"farmsight-service"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	EOS           EOSConfig
	AWS           AWSConfig
	Auth          AuthConfig
	Ledger        LedgerConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               string   `envconfig:"PORT" default:"8080"`
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// EOSConfig holds the satellite imagery provider configuration.
//
// APIKey is the direct credential override for local development. When empty,
// the key is resolved at first use from the secret store under SecretID and
// cached for the process lifetime.
type EOSConfig struct {
	APIKey          SecretString  `envconfig:"EOS_API_KEY"`
	SecretID        string        `envconfig:"EOS_SECRET_ID" default:"eos/api"`
	BaseURL         string        `envconfig:"EOS_BASE_URL" default:"https://api-connect.eos.com/api"`
	PollMaxAttempts int           `envconfig:"EOS_POLL_MAX_ATTEMPTS" default:"30"`
	PollInterval    time.Duration `envconfig:"EOS_POLL_INTERVAL" default:"2s"`
	RenderTile      string        `envconfig:"EOS_RENDER_TILE" default:"36/N/YF"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-central-1"`

	// Resource Identifiers
	FarmsTable      string `envconfig:"FARMS_TABLE" default:"gsg_farms"`
	RefreshQueueURL string `envconfig:"SQS_REFRESH_JOBS"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// AuthConfig holds token verification settings. Session issuance happens in
// the web tier; this service only verifies tokens and extracts roles.
type AuthConfig struct {
	Secret     SecretString `envconfig:"AUTH_SECRET" default:"dev-secret"`
	CookieName string       `envconfig:"AUTH_COOKIE" default:"gsg_auth"`
}

// LedgerConfig holds the read-only blockchain trace API configuration.
type LedgerConfig struct {
	BaseURL string        `envconfig:"TRACE_API_URL" default:"https://cn-api.greenstemglobal.com/trace"`
	Timeout time.Duration `envconfig:"TRACE_API_TIMEOUT" default:"10s"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"FarmSight"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

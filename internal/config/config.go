package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Core settings
	FirestoreProjectID  string
	FirestoreDatabaseID string
	GitHubWebhookSecret string
	SlackSigningSecret  string
	GitHubAppID         int64
	GitHubPrivateKey    string // PEM-encoded GitHub App private key
	APIAdminKey         string
	CloudTasksSecret    string

	// Cloud Tasks settings
	GoogleCloudProject string
	WebhookWorkerURL   string
	GCPRegion          string
	CloudTasksQueue    string

	// Server settings
	Port                  string
	GinMode               string
	LogLevel              string
	ServerReadTimeout     time.Duration
	ServerWriteTimeout    time.Duration
	ServerShutdownTimeout time.Duration

	// Processing settings
	WebhookProcessingTimeout time.Duration
	SlackTimestampMaxAge     time.Duration
	SlackThrottleTTL         time.Duration
	ThreadLeaseTTL           time.Duration
}

// Load reads configuration from environment variables, consulting a local
// .env file when present. Panics if any required value is missing or invalid.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		FirestoreProjectID:  getEnvRequired("FIRESTORE_PROJECT_ID"),
		FirestoreDatabaseID: getEnvRequired("FIRESTORE_DATABASE_ID"),
		GitHubWebhookSecret: getEnvRequired("GITHUB_WEBHOOK_SECRET"),
		SlackSigningSecret:  getEnvRequired("SLACK_SIGNING_SECRET"),
		GitHubPrivateKey:    os.Getenv("GITHUB_APP_PRIVATE_KEY"),
		APIAdminKey:         getEnvRequired("API_ADMIN_KEY"),
		CloudTasksSecret:    getEnvRequired("CLOUD_TASKS_SECRET"),

		GoogleCloudProject: getEnvRequired("GOOGLE_CLOUD_PROJECT"),
		WebhookWorkerURL:   getEnvRequired("WEBHOOK_WORKER_URL"),
		GCPRegion:          getEnvDefault("GCP_REGION", "europe-west1"),
		CloudTasksQueue:    getEnvDefault("CLOUD_TASKS_QUEUE", "webhook-processing"),

		Port:     getEnvDefault("PORT", "8080"),
		GinMode:  getEnvDefault("GIN_MODE", "debug"),
		LogLevel: getEnvDefault("LOG_LEVEL", "info"),
	}

	cfg.GitHubAppID = getEnvInt64("GITHUB_APP_ID", 0)

	cfg.ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second)
	cfg.ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second)
	cfg.ServerShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.WebhookProcessingTimeout = getEnvDuration("WEBHOOK_PROCESSING_TIMEOUT", 5*time.Minute)
	cfg.SlackTimestampMaxAge = getEnvDuration("SLACK_TIMESTAMP_MAX_AGE", 5*time.Minute)
	cfg.SlackThrottleTTL = getEnvDuration("SLACK_THROTTLE_TTL", 15*time.Minute)
	cfg.ThreadLeaseTTL = getEnvDuration("THREAD_LEASE_TTL", 2*time.Minute)

	cfg.validate()

	return cfg
}

// validate checks that all required configuration is present and valid.
// Panics if any validation fails.
func (c *Config) validate() {
	required := map[string]string{
		"FIRESTORE_PROJECT_ID":  c.FirestoreProjectID,
		"FIRESTORE_DATABASE_ID": c.FirestoreDatabaseID,
		"GITHUB_WEBHOOK_SECRET": c.GitHubWebhookSecret,
		"SLACK_SIGNING_SECRET":  c.SlackSigningSecret,
		"API_ADMIN_KEY":         c.APIAdminKey,
		"CLOUD_TASKS_SECRET":    c.CloudTasksSecret,
		"GOOGLE_CLOUD_PROJECT":  c.GoogleCloudProject,
		"WEBHOOK_WORKER_URL":    c.WebhookWorkerURL,
	}

	for name, value := range required {
		if value == "" {
			panic(fmt.Sprintf("required environment variable %s is not set", name))
		}
	}

	if c.GinMode != "debug" && c.GinMode != "release" && c.GinMode != "test" {
		panic(fmt.Sprintf("invalid GIN_MODE: %s (must be debug, release, or test)", c.GinMode))
	}

	if c.LogLevel != "debug" && c.LogLevel != "info" && c.LogLevel != "warn" && c.LogLevel != "error" {
		panic(fmt.Sprintf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.LogLevel))
	}

	for name, d := range map[string]time.Duration{
		"SERVER_READ_TIMEOUT":        c.ServerReadTimeout,
		"SERVER_WRITE_TIMEOUT":       c.ServerWriteTimeout,
		"SERVER_SHUTDOWN_TIMEOUT":    c.ServerShutdownTimeout,
		"WEBHOOK_PROCESSING_TIMEOUT": c.WebhookProcessingTimeout,
		"SLACK_TIMESTAMP_MAX_AGE":    c.SlackTimestampMaxAge,
		"SLACK_THROTTLE_TTL":         c.SlackThrottleTTL,
		"THREAD_LEASE_TTL":           c.ThreadLeaseTTL,
	} {
		if d <= 0 {
			panic(fmt.Sprintf("%s must be positive", name))
		}
	}
}

// getEnvRequired gets an environment variable or returns empty string if not
// set. The validate() function will panic if required values are missing.
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvDefault gets an environment variable with a default value.
func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt64 gets an int64 environment variable with a default value.
// Panics if the value cannot be parsed.
func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid integer value for %s: %s", key, value))
	}
	return n
}

// getEnvDuration gets a duration environment variable with a default value.
// Panics if the value cannot be parsed as a duration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("invalid duration value for %s: %s", key, value))
	}
	return d
}

package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the relay server configuration.
type Config struct {
	Env      string
	Port     int
	LogLevel string

	// SMTP Configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTimeout  time.Duration

	// Addresses that receive relayed reports and surveys
	ReportRecipients []string

	// Largest accepted request body. Photos travel inline as data URLs.
	MaxBodyBytes int64

	// Archive Configuration
	ArchiveProvider string // "none", "local" or "r2"

	// Local Storage
	LocalStoragePath string
	LocalStorageURL  string

	// R2 Storage
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string

	// CORS
	AllowedOrigins []string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected
	MetricsUsername string
	MetricsPassword string
}

// NewConfig loads the relay configuration from the environment.
func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 3001),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// SMTP defaults for Mailhog (development)
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "reports@trackmate.local"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "TrackMate"),
		SMTPTimeout:  getEnvDuration("SMTP_TIMEOUT", 30*time.Second),

		MaxBodyBytes: int64(getEnvInt("MAX_BODY_BYTES", 50<<20)),

		ArchiveProvider:  getEnv("ARCHIVE_PROVIDER", "none"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:3001/files"),

		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),

		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}, false),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.ReportRecipients = getEnvList("REPORT_RECIPIENTS", nil, true)
	if len(cfg.ReportRecipients) == 0 {
		return nil, fmt.Errorf("REPORT_RECIPIENTS is required")
	}

	if cfg.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", cfg.MaxBodyBytes)
	}

	if err := validateStorage(cfg.ArchiveProvider, cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2BucketName, true); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ClientConfig holds the field reporter configuration.
type ClientConfig struct {
	Env      string
	LogLevel string

	// Relay endpoint the reporter submits to
	RelayURL       string
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration

	// Queue store
	QueueDriver string // "sqlite" or "pgx"
	QueueDSN    string

	// Photo storage
	PhotoStorageProvider string // "local" or "r2"
	PhotoStoragePath     string
	R2AccountID          string
	R2AccessKeyID        string
	R2SecretAccessKey    string
	R2BucketName         string

	// Background sync
	SyncPollInterval time.Duration
	SyncMinInterval  time.Duration

	// Address for the watch command's /metrics listener; empty disables it
	MetricsAddr     string
	MetricsUsername string
	MetricsPassword string
}

// NewClientConfig loads the field reporter configuration from the environment.
func NewClientConfig() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RelayURL:       strings.TrimSuffix(getEnv("RELAY_URL", "http://localhost:3001"), "/"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
		ProbeTimeout:   getEnvDuration("PROBE_TIMEOUT", 5*time.Second),

		QueueDriver: getEnv("QUEUE_DRIVER", "sqlite"),
		QueueDSN:    getEnv("QUEUE_DSN", "./data/queue.db"),

		PhotoStorageProvider: getEnv("PHOTO_STORAGE_PROVIDER", "local"),
		PhotoStoragePath:     getEnv("PHOTO_STORAGE_PATH", "./data/photos"),
		R2AccountID:          getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:        getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey:    getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:         getEnv("R2_BUCKET_NAME", ""),

		SyncPollInterval: getEnvDuration("SYNC_POLL_INTERVAL", 15*time.Second),
		SyncMinInterval:  getEnvDuration("SYNC_MIN_INTERVAL", 5*time.Minute),

		MetricsAddr:     getEnv("METRICS_ADDR", ""),
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("RELAY_URL is required")
	}

	switch cfg.QueueDriver {
	case "sqlite", "pgx":
	default:
		return nil, fmt.Errorf("QUEUE_DRIVER must be either 'sqlite' or 'pgx', got: %s", cfg.QueueDriver)
	}
	if cfg.QueueDSN == "" {
		return nil, fmt.Errorf("QUEUE_DSN is required")
	}

	if err := validateStorage(cfg.PhotoStorageProvider, cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2BucketName, false); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validateStorage(provider, accountID, accessKeyID, secret, bucket string, allowNone bool) error {
	switch provider {
	case "local":
		return nil
	case "none":
		if allowNone {
			return nil
		}
	case "r2":
		if accountID == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when storage provider is 'r2'")
		}
		if accessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when storage provider is 'r2'")
		}
		if secret == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when storage provider is 'r2'")
		}
		if bucket == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when storage provider is 'r2'")
		}
		return nil
	}
	return fmt.Errorf("unsupported storage provider: %s", provider)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList parses a comma-separated variable, dropping empty items.
func getEnvList(key string, fallback []string, lower bool) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(item)
		if lower {
			trimmed = strings.ToLower(trimmed)
		}
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

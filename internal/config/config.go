package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Webhook   WebhookConfig
	Pairing   PairingConfig
	Transport TransportConfig
	MongoDB   MongoDBConfig
	Retention RetentionConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// LogConfig selects the minimum log level.
type LogConfig struct {
	Level string
}

// WebhookConfig bounds in-memory webhook history and locates media uploads.
type WebhookConfig struct {
	UploadsDir   string
	HistoryLimit int
	QueryLimit   int
}

// PairingConfig drives QR renewal while a connection is pairing.
type PairingConfig struct {
	RenewInterval time.Duration
	RenewWindow   time.Duration
}

// TransportConfig points at the WhatsApp session gateway.
type TransportConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// MongoDBConfig holds settings for MongoDB.
type MongoDBConfig struct {
	URI                string
	DBName             string
	MessagesCollection string
}

// RetentionConfig controls the periodic media sweep. Zero days disables it.
type RetentionConfig struct {
	MediaDays int
	Schedule  string
	Timezone  string
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are fine when configuration comes from the environment.
		_ = godotenv.Load()
	}

	var errs []error
	intVar := func(key string, fallback int) int {
		v, err := getenvInt(key, fallback)
		errs = append(errs, err)
		return v
	}
	durationVar := func(key string, fallback time.Duration) time.Duration {
		v, err := getenvDuration(key, fallback)
		errs = append(errs, err)
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getenvWithDefault("APP_PORT", "8080"),
			AllowedOrigins: splitList(getenvWithDefault("WEB_ORIGIN", "http://localhost:5173")),
		},
		Log: LogConfig{
			Level: getenvWithDefault("LOG_LEVEL", "info"),
		},
		Webhook: WebhookConfig{
			UploadsDir:   getenvWithDefault("UPLOADS_DIR", "./uploads"),
			HistoryLimit: intVar("WEBHOOK_HISTORY_LIMIT", 100),
			QueryLimit:   intVar("WEBHOOK_QUERY_LIMIT", 50),
		},
		Pairing: PairingConfig{
			RenewInterval: durationVar("QR_RENEW_INTERVAL", 30*time.Second),
			RenewWindow:   durationVar("QR_RENEW_WINDOW", 90*time.Second),
		},
		Transport: TransportConfig{
			BaseURL: getenvWithDefault("TRANSPORT_BASE_URL", "http://localhost:3001"),
			Token:   os.Getenv("TRANSPORT_TOKEN"),
			Timeout: durationVar("TRANSPORT_TIMEOUT", 15*time.Second),
		},
		MongoDB: MongoDBConfig{
			URI:                os.Getenv("MONGODB_URI"),
			DBName:             getenvWithDefault("MONGODB_DB_NAME", "crm"),
			MessagesCollection: getenvWithDefault("MONGODB_MESSAGES_COLLECTION", "whatsapp_messages"),
		},
		Retention: RetentionConfig{
			MediaDays: intVar("MEDIA_RETENTION_DAYS", 30),
			Schedule:  getenvWithDefault("MEDIA_SWEEP_SCHEDULE", "0 3 * * *"),
			Timezone:  getenvWithDefault("TIMEZONE", "UTC"),
		},
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	if c.MongoDB.URI == "" {
		return errors.New("MONGODB_URI must be provided")
	}

	switch {
	case c.Webhook.UploadsDir == "":
		return errors.New("UPLOADS_DIR must not be empty")
	case c.Webhook.HistoryLimit <= 0:
		return errors.New("WEBHOOK_HISTORY_LIMIT must be positive")
	case c.Webhook.QueryLimit <= 0:
		return errors.New("WEBHOOK_QUERY_LIMIT must be positive")
	}

	if c.Pairing.RenewInterval <= 0 || c.Pairing.RenewWindow <= 0 {
		return errors.New("QR_RENEW_INTERVAL and QR_RENEW_WINDOW must be positive")
	}
	if c.Pairing.RenewWindow < c.Pairing.RenewInterval {
		return errors.New("QR_RENEW_WINDOW must not be shorter than QR_RENEW_INTERVAL")
	}

	if c.Transport.BaseURL == "" {
		return errors.New("TRANSPORT_BASE_URL must not be empty")
	}

	if c.Retention.MediaDays < 0 {
		return errors.New("MEDIA_RETENTION_DAYS must not be negative")
	}
	if c.Retention.MediaDays > 0 && c.Retention.Schedule == "" {
		return errors.New("MEDIA_SWEEP_SCHEDULE must be provided when retention is enabled")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

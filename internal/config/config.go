package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BlobBackendFS     = "fs"
	BlobBackendMemory = "memory"
)

type Config struct {
	// HTTP Server
	Port           string
	LogLevel       string
	PublicBaseURL  string
	MaxUploadBytes int64

	// Database
	SQLiteDBPath string

	// Attachments
	BlobBackend    string
	AttachmentsDir string
	SigningSecret  string
	SignedURLTTL   time.Duration

	// Reports
	ReportCacheSize int
	ReportCacheTTL  time.Duration

	// AMQP (optional for the API, required by the worker)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	AMQPPrefetch int

	// Google Sheets export
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8081"),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 20<<20),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/gastos.db"),

		BlobBackend:    getEnv("BLOB_BACKEND", BlobBackendFS),
		AttachmentsDir: getEnv("ATTACHMENTS_DIR", "./data/attachments"),
		SigningSecret:  getEnv("SIGNING_SECRET", ""),
		SignedURLTTL:   getEnvDuration("SIGNED_URL_TTL", 15*time.Minute),

		ReportCacheSize: getEnvInt("REPORT_CACHE_SIZE", 64),
		ReportCacheTTL:  getEnvDuration("REPORT_CACHE_TTL", 5*time.Minute),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "gastos"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "expense_events"),
		AMQPPrefetch: getEnvInt("AMQP_PREFETCH", 10),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Gastos"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
	}
}

// Validate checks the settings the API server needs and reports every
// problem at once.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		problems = append(problems, "SQLite database path cannot be empty")
	}

	switch c.BlobBackend {
	case BlobBackendFS:
		if c.AttachmentsDir == "" {
			problems = append(problems, "attachments directory cannot be empty when using fs blob backend")
		}
	case BlobBackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("invalid blob backend '%s': must be one of [%s %s]", c.BlobBackend, BlobBackendFS, BlobBackendMemory))
	}

	if len(c.SigningSecret) < 16 {
		problems = append(problems, "SIGNING_SECRET must be at least 16 bytes")
	}
	if c.SignedURLTTL < time.Second {
		problems = append(problems, fmt.Sprintf("invalid signed URL TTL %v: must be at least 1 second", c.SignedURLTTL))
	} else if c.SignedURLTTL > 24*time.Hour {
		problems = append(problems, fmt.Sprintf("invalid signed URL TTL %v: must be at most 24 hours", c.SignedURLTTL))
	}

	if u, err := url.Parse(c.PublicBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("invalid public base URL '%s': must be an absolute http(s) URL", c.PublicBaseURL))
	}
	if c.MaxUploadBytes < 1 {
		problems = append(problems, fmt.Sprintf("invalid max upload size %d: must be positive", c.MaxUploadBytes))
	}

	if c.ReportCacheSize < 1 {
		problems = append(problems, fmt.Sprintf("invalid report cache size %d: must be at least 1", c.ReportCacheSize))
	}
	if c.ReportCacheTTL < time.Second {
		problems = append(problems, fmt.Sprintf("invalid report cache TTL %v: must be at least 1 second", c.ReportCacheTTL))
	}

	problems = append(problems, c.amqpProblems()...)
	return combine(problems)
}

// ValidateWorker checks the settings the export worker needs.
func (c *Config) ValidateWorker() error {
	var problems []string
	if c.AMQPURL == "" {
		problems = append(problems, "AMQP_URL is required for the worker")
	}
	problems = append(problems, c.amqpProblems()...)
	if c.AMQPPrefetch < 1 || c.AMQPPrefetch > 1000 {
		problems = append(problems, fmt.Sprintf("invalid AMQP prefetch %d: must be between 1 and 1000", c.AMQPPrefetch))
	}

	if c.GoogleSpreadsheetID == "" {
		problems = append(problems, "GOOGLE_SPREADSHEET_ID is required for the worker")
	}
	if c.GoogleSheetName == "" {
		problems = append(problems, "GOOGLE_SHEET_NAME cannot be empty")
	}
	if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
		problems = append(problems, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided")
	}
	if c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			problems = append(problems, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}
	return combine(problems)
}

func (c *Config) amqpProblems() []string {
	if c.AMQPURL == "" {
		return nil
	}
	var problems []string
	if u, err := url.Parse(c.AMQPURL); err != nil {
		problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
	} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
		problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
	}
	if c.AMQPExchange == "" {
		problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
	}
	if c.AMQPQueue == "" {
		problems = append(problems, "AMQP queue name cannot be empty when AMQP URL is provided")
	}
	return problems
}

func combine(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

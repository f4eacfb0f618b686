package backend

import (
	"fmt"
	"time"

	"gastos/internal/config"
)

// BlobType selects where attachment bytes live.
type BlobType string

const (
	FSBlobs     BlobType = config.BlobBackendFS
	MemoryBlobs BlobType = config.BlobBackendMemory
)

func (t BlobType) IsValid() bool {
	return t == FSBlobs || t == MemoryBlobs
}

func (t BlobType) String() string {
	return string(t)
}

// Config holds what the factory needs, decoupled from the env layout.
type Config struct {
	SQLiteDBPath string

	BlobType       BlobType
	AttachmentsDir string
	SigningSecret  []byte
	PublicBaseURL  string
	SignedURLTTL   time.Duration

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	AMQPPrefetch int

	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

// FromAppConfig converts the application config to backend config.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}
	blobType := BlobType(appConfig.BlobBackend)
	if !blobType.IsValid() {
		return Config{}, fmt.Errorf("invalid blob backend in config: %s", appConfig.BlobBackend)
	}
	return Config{
		SQLiteDBPath: appConfig.SQLiteDBPath,

		BlobType:       blobType,
		AttachmentsDir: appConfig.AttachmentsDir,
		SigningSecret:  []byte(appConfig.SigningSecret),
		PublicBaseURL:  appConfig.PublicBaseURL,
		SignedURLTTL:   appConfig.SignedURLTTL,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
		AMQPPrefetch: appConfig.AMQPPrefetch,

		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleSheetName:          appConfig.GoogleSheetName,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
	}, nil
}

func (c Config) Validate() error {
	if c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required")
	}
	if !c.BlobType.IsValid() {
		return fmt.Errorf("invalid blob backend: %s", c.BlobType)
	}
	if c.BlobType == FSBlobs && c.AttachmentsDir == "" {
		return fmt.Errorf("attachments directory is required for the fs blob backend")
	}
	if len(c.SigningSecret) == 0 {
		return fmt.Errorf("signing secret is required")
	}
	return nil
}

// SheetsEnabled reports whether a Google Sheets export target is configured.
func (c Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != "" &&
		(c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != "")
}

package backend

import (
	"context"
	"errors"
	"fmt"

	"gastos/internal/amqp"
	"gastos/internal/attachments"
	applog "gastos/internal/log"
	"gastos/internal/sheets"
	gsheet "gastos/internal/sheets/google"
	"gastos/internal/sheets/memory"
	"gastos/internal/storage"
)

type DefaultFactory struct {
	logger *applog.Logger
}

func NewFactory(logger *applog.Logger) *DefaultFactory {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(applog.ComponentBackend)}
}

var _ Factory = (*DefaultFactory)(nil)

// CreateComponents opens the database, the blob store and, when a broker URL
// is set, the event publisher. A broker that cannot be reached is logged and
// skipped: recording expenses does not depend on it.
func (f *DefaultFactory) CreateComponents(ctx context.Context, config Config) (*Components, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	blobs, err := f.createBlobStore(config)
	if err != nil {
		repo.Close()
		return nil, err
	}
	signer := attachments.NewSigner(config.SigningSecret, config.PublicBaseURL, config.SignedURLTTL)

	c := &Components{
		Repo:  repo,
		Blobs: blobs,
		Files: attachments.NewStore(blobs, signer).WithKeyIndex(repo),
	}

	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, config.AMQPPrefetch)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			c.Publisher = client
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	c.Cleanup = func() error {
		var errs []error
		if c.Publisher != nil {
			errs = append(errs, c.Publisher.Close())
		}
		errs = append(errs, repo.Close())
		return errors.Join(errs...)
	}

	f.logger.InfoContext(ctx, "Initialized backend",
		"db_path", config.SQLiteDBPath,
		"blob_backend", config.BlobType.String(),
		"amqp_enabled", c.Publisher != nil)
	return c, nil
}

func (f *DefaultFactory) createBlobStore(config Config) (attachments.BlobStore, error) {
	switch config.BlobType {
	case FSBlobs:
		blobs, err := attachments.NewFSBlobStore(config.AttachmentsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize attachments directory: %w", err)
		}
		return blobs, nil
	case MemoryBlobs:
		f.logger.Warn("Using in-memory blob store, attachments are lost on restart")
		return attachments.NewMemoryBlobStore(), nil
	}
	return nil, fmt.Errorf("unsupported blob backend: %s", config.BlobType)
}

// CreateExporter returns the Google Sheets exporter when credentials are
// configured, or an in-memory one otherwise.
func (f *DefaultFactory) CreateExporter(ctx context.Context, config Config) (sheets.ExpenseExporter, error) {
	if !config.SheetsEnabled() {
		f.logger.InfoContext(ctx, "Google Sheets not configured, exporting to memory")
		return memory.New(), nil
	}
	exp, err := gsheet.NewExporter(ctx, gsheet.Options{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.GoogleSheetName,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets exporter: %w", err)
	}
	f.logger.InfoContext(ctx, "Initialized Google Sheets exporter",
		"spreadsheet_id", config.GoogleSpreadsheetID,
		"sheet", config.GoogleSheetName)
	return exp, nil
}

// Package backend assembles the storage, attachment and messaging pieces a
// process needs from configuration.
package backend

import (
	"context"

	"gastos/internal/amqp"
	"gastos/internal/attachments"
	"gastos/internal/sheets"
	"gastos/internal/storage"
)

// CleanupFunc releases resources held by a built component.
type CleanupFunc func() error

// Components is what the API server runs on.
type Components struct {
	Repo  *storage.SQLiteRepository
	Blobs attachments.BlobStore
	Files *attachments.Store
	// Publisher is nil when no broker is configured.
	Publisher *amqp.Client
	Cleanup   CleanupFunc
}

// Factory builds components from configuration.
type Factory interface {
	CreateComponents(ctx context.Context, config Config) (*Components, error)
	CreateExporter(ctx context.Context, config Config) (sheets.ExpenseExporter, error)
}

package services

import (
	"context"
	"io"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/attachments"
	"gastos/internal/core"
	"gastos/internal/storage"
)

// Catalog is the entity store.
type Catalog interface {
	CreateBank(ctx context.Context, b core.Bank) (core.Bank, error)
	ListBanks(ctx context.Context) ([]core.Bank, error)
	GetBank(ctx context.Context, id int64) (core.Bank, error)
	UpdateBank(ctx context.Context, id int64, b core.Bank) (core.Bank, error)
	DeleteBank(ctx context.Context, id int64) error

	CreateProvider(ctx context.Context, p core.Provider) (core.Provider, error)
	ListProviders(ctx context.Context) ([]core.Provider, error)
	GetProvider(ctx context.Context, id int64) (core.Provider, error)
	UpdateProvider(ctx context.Context, id int64, p core.Provider) (core.Provider, error)
	DeleteProvider(ctx context.Context, id int64) error

	CreateServiceOrder(ctx context.Context, o core.ServiceOrder) (core.ServiceOrder, error)
	ListServiceOrders(ctx context.Context) ([]core.ServiceOrder, error)
	GetServiceOrder(ctx context.Context, id int64) (core.ServiceOrder, error)
	UpdateServiceOrder(ctx context.Context, id int64, o core.ServiceOrder) (core.ServiceOrder, error)
	DeleteServiceOrder(ctx context.Context, id int64) error
}

// Ledger is the append-only expense store.
type Ledger interface {
	RecordExpense(ctx context.Context, e core.Expense, attach storage.AttachFunc) (core.Expense, []core.Attachment, error)
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	ListExpenses(ctx context.Context, f core.ExpenseFilter) ([]core.Expense, error)
	ListExpensesWithAttachments(ctx context.Context, f core.ExpenseFilter) ([]core.ExpenseWithAttachments, error)
	ListAttachments(ctx context.Context, expenseID int64) ([]core.Attachment, error)
	GetAttachment(ctx context.Context, key string) (core.Attachment, error)
	DeleteExpense(ctx context.Context, id int64) (core.Expense, []core.Attachment, error)
	GetServiceOrder(ctx context.Context, id int64) (core.ServiceOrder, error)
}

// Snapshot is what the report needs to read. Version changes on every
// committed write.
type Snapshot interface {
	ListBanks(ctx context.Context) ([]core.Bank, error)
	ListProviders(ctx context.Context) ([]core.Provider, error)
	ListServiceOrders(ctx context.Context) ([]core.ServiceOrder, error)
	ListExpenses(ctx context.Context, f core.ExpenseFilter) ([]core.Expense, error)
	Version() uint64
}

// FileStore holds attachment bytes.
type FileStore interface {
	Save(ctx context.Context, expenseID int64, u core.Upload) (core.Attachment, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (attachments.SignedLink, error)
	Resolve(ctx context.Context, token string) (string, error)
}

// EventPublisher announces ledger changes. It is optional.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, msg *amqp.ExpenseEvent) error
}

// Invalidator drops derived read models after a write.
type Invalidator interface {
	Purge()
}

var (
	_ Catalog   = (*storage.SQLiteRepository)(nil)
	_ Ledger    = (*storage.SQLiteRepository)(nil)
	_ Snapshot  = (*storage.SQLiteRepository)(nil)
	_ FileStore = (*attachments.Store)(nil)
)

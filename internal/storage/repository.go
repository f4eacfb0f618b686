package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gastos/internal/core"

	_ "modernc.org/sqlite"
)

// AttachFunc stores the files of a freshly inserted expense and returns the
// attachment records to persist with it. It runs inside the ledger
// transaction, so an error rolls the expense back.
type AttachFunc func(ctx context.Context, expenseID int64) ([]core.Attachment, error)

// SQLiteRepository is the ledger and catalog store. Writes are serialized
// through writeMu; every committed write bumps the data version.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	dbPath  string

	writeMu sync.Mutex
	version atomic.Uint64
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Migrations first: they need the file before the pragmas below are applied.
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		dbPath:  dbPath,
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// Version changes whenever a write commits. Readers use it to key caches.
func (r *SQLiteRepository) Version() uint64 {
	return r.version.Load()
}

// write runs fn in a transaction while holding the write lock.
func (r *SQLiteRepository) write(ctx context.Context, fn func(q *Queries) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	r.version.Add(1)
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrStorageFailure, op, err)
}

// readErr maps a single-row lookup failure.
func readErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	return storageErr(op, err)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Banks

func (r *SQLiteRepository) CreateBank(ctx context.Context, b core.Bank) (core.Bank, error) {
	if err := b.Validate(); err != nil {
		return core.Bank{}, err
	}
	err := r.write(ctx, func(q *Queries) error {
		id, err := q.CreateBank(ctx, b, r.now())
		if err != nil {
			return storageErr("create bank", err)
		}
		b.ID = id
		return nil
	})
	if err != nil {
		return core.Bank{}, err
	}
	slog.InfoContext(ctx, "Bank created", "bank_id", b.ID, "name", b.Name)
	return b, nil
}

func (r *SQLiteRepository) ListBanks(ctx context.Context) ([]core.Bank, error) {
	items, err := r.queries.ListBanks(ctx)
	if err != nil {
		return nil, storageErr("list banks", err)
	}
	return items, nil
}

func (r *SQLiteRepository) GetBank(ctx context.Context, id int64) (core.Bank, error) {
	b, err := r.queries.GetBank(ctx, id)
	if err != nil {
		return core.Bank{}, readErr(fmt.Sprintf("bank %d", id), err)
	}
	return b, nil
}

func (r *SQLiteRepository) UpdateBank(ctx context.Context, id int64, b core.Bank) (core.Bank, error) {
	if err := b.Validate(); err != nil {
		return core.Bank{}, err
	}
	err := r.write(ctx, func(q *Queries) error {
		n, err := q.UpdateBank(ctx, id, b)
		if err != nil {
			return storageErr("update bank", err)
		}
		if n == 0 {
			return fmt.Errorf("bank %d: %w", id, core.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return core.Bank{}, err
	}
	b.ID = id
	return b, nil
}

// DeleteBank refuses to remove a bank that any expense still references.
func (r *SQLiteRepository) DeleteBank(ctx context.Context, id int64) error {
	return r.write(ctx, func(q *Queries) error {
		refs, err := q.CountExpensesByBank(ctx, id)
		if err != nil {
			return storageErr("count bank references", err)
		}
		if refs > 0 {
			return fmt.Errorf("bank %d is referenced by %d expenses: %w", id, refs, core.ErrConflict)
		}
		n, err := q.DeleteBank(ctx, id)
		if err != nil {
			return storageErr("delete bank", err)
		}
		if n == 0 {
			return fmt.Errorf("bank %d: %w", id, core.ErrNotFound)
		}
		return nil
	})
}

// Providers

func (r *SQLiteRepository) CreateProvider(ctx context.Context, p core.Provider) (core.Provider, error) {
	if err := p.Validate(); err != nil {
		return core.Provider{}, err
	}
	err := r.write(ctx, func(q *Queries) error {
		id, err := q.CreateProvider(ctx, p, r.now())
		if err != nil {
			return storageErr("create provider", err)
		}
		p.ID = id
		return nil
	})
	if err != nil {
		return core.Provider{}, err
	}
	slog.InfoContext(ctx, "Provider created", "provider_id", p.ID, "name", p.Name)
	return p, nil
}

func (r *SQLiteRepository) ListProviders(ctx context.Context) ([]core.Provider, error) {
	items, err := r.queries.ListProviders(ctx)
	if err != nil {
		return nil, storageErr("list providers", err)
	}
	return items, nil
}

func (r *SQLiteRepository) GetProvider(ctx context.Context, id int64) (core.Provider, error) {
	p, err := r.queries.GetProvider(ctx, id)
	if err != nil {
		return core.Provider{}, readErr(fmt.Sprintf("provider %d", id), err)
	}
	return p, nil
}

func (r *SQLiteRepository) UpdateProvider(ctx context.Context, id int64, p core.Provider) (core.Provider, error) {
	if err := p.Validate(); err != nil {
		return core.Provider{}, err
	}
	err := r.write(ctx, func(q *Queries) error {
		n, err := q.UpdateProvider(ctx, id, p)
		if err != nil {
			return storageErr("update provider", err)
		}
		if n == 0 {
			return fmt.Errorf("provider %d: %w", id, core.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return core.Provider{}, err
	}
	p.ID = id
	return p, nil
}

func (r *SQLiteRepository) DeleteProvider(ctx context.Context, id int64) error {
	return r.write(ctx, func(q *Queries) error {
		refs, err := q.CountExpensesByProvider(ctx, id)
		if err != nil {
			return storageErr("count provider references", err)
		}
		if refs > 0 {
			return fmt.Errorf("provider %d is referenced by %d expenses: %w", id, refs, core.ErrConflict)
		}
		n, err := q.DeleteProvider(ctx, id)
		if err != nil {
			return storageErr("delete provider", err)
		}
		if n == 0 {
			return fmt.Errorf("provider %d: %w", id, core.ErrNotFound)
		}
		return nil
	})
}

// Service orders

func (r *SQLiteRepository) CreateServiceOrder(ctx context.Context, o core.ServiceOrder) (core.ServiceOrder, error) {
	if err := o.Validate(); err != nil {
		return core.ServiceOrder{}, err
	}
	err := r.write(ctx, func(q *Queries) error {
		taken, err := q.ServiceOrderNumberTaken(ctx, o.Number, 0)
		if err != nil {
			return storageErr("check service order number", err)
		}
		if taken {
			return core.NewFieldError("number", fmt.Errorf("service order %q already exists: %w", o.Number, core.ErrConflict))
		}
		id, err := q.CreateServiceOrder(ctx, o, r.now())
		if isUniqueViolation(err) {
			return core.NewFieldError("number", fmt.Errorf("service order %q already exists: %w", o.Number, core.ErrConflict))
		}
		if err != nil {
			return storageErr("create service order", err)
		}
		o.ID = id
		return nil
	})
	if err != nil {
		return core.ServiceOrder{}, err
	}
	o.Collected = false
	slog.InfoContext(ctx, "Service order created",
		"service_order_id", o.ID,
		"number", o.Number,
		"billable_cents", o.BillableAmount.Cents)
	return o, nil
}

func (r *SQLiteRepository) ListServiceOrders(ctx context.Context) ([]core.ServiceOrder, error) {
	items, err := r.queries.ListServiceOrders(ctx)
	if err != nil {
		return nil, storageErr("list service orders", err)
	}
	return items, nil
}

func (r *SQLiteRepository) GetServiceOrder(ctx context.Context, id int64) (core.ServiceOrder, error) {
	o, err := r.queries.GetServiceOrder(ctx, id)
	if err != nil {
		return core.ServiceOrder{}, readErr(fmt.Sprintf("service order %d", id), err)
	}
	return o, nil
}

func (r *SQLiteRepository) UpdateServiceOrder(ctx context.Context, id int64, o core.ServiceOrder) (core.ServiceOrder, error) {
	if err := o.Validate(); err != nil {
		return core.ServiceOrder{}, err
	}
	var updated core.ServiceOrder
	err := r.write(ctx, func(q *Queries) error {
		taken, err := q.ServiceOrderNumberTaken(ctx, o.Number, id)
		if err != nil {
			return storageErr("check service order number", err)
		}
		if taken {
			return core.NewFieldError("number", fmt.Errorf("service order %q already exists: %w", o.Number, core.ErrConflict))
		}
		n, err := q.UpdateServiceOrder(ctx, id, o)
		if isUniqueViolation(err) {
			return core.NewFieldError("number", fmt.Errorf("service order %q already exists: %w", o.Number, core.ErrConflict))
		}
		if err != nil {
			return storageErr("update service order", err)
		}
		if n == 0 {
			return fmt.Errorf("service order %d: %w", id, core.ErrNotFound)
		}
		updated, err = q.GetServiceOrder(ctx, id)
		if err != nil {
			return storageErr("reload service order", err)
		}
		return nil
	})
	if err != nil {
		return core.ServiceOrder{}, err
	}
	return updated, nil
}

func (r *SQLiteRepository) DeleteServiceOrder(ctx context.Context, id int64) error {
	return r.write(ctx, func(q *Queries) error {
		refs, err := q.CountExpensesByServiceOrder(ctx, id)
		if err != nil {
			return storageErr("count service order references", err)
		}
		if refs > 0 {
			return fmt.Errorf("service order %d is referenced by %d expenses: %w", id, refs, core.ErrConflict)
		}
		n, err := q.DeleteServiceOrder(ctx, id)
		if err != nil {
			return storageErr("delete service order", err)
		}
		if n == 0 {
			return fmt.Errorf("service order %d: %w", id, core.ErrNotFound)
		}
		return nil
	})
}

// Ledger

// RecordExpense inserts e and the attachments produced by attach as one
// unit. Either all rows become visible or none do. A nil attach records the
// expense without files.
func (r *SQLiteRepository) RecordExpense(ctx context.Context, e core.Expense, attach AttachFunc) (core.Expense, []core.Attachment, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, nil, err
	}

	var attachments []core.Attachment
	err := r.write(ctx, func(q *Queries) error {
		order, bank, provider, err := q.ReferencesExist(ctx, e)
		if err != nil {
			return storageErr("check references", err)
		}
		switch {
		case !order:
			return core.NewFieldError("serviceOrderId", fmt.Errorf("service order %d: %w", e.ServiceOrderID, core.ErrInvalidReference))
		case !bank:
			return core.NewFieldError("bankId", fmt.Errorf("bank %d: %w", e.BankID, core.ErrInvalidReference))
		case !provider:
			return core.NewFieldError("providerId", fmt.Errorf("provider %d: %w", e.ProviderID, core.ErrInvalidReference))
		}

		e.CreatedAt = r.now().UTC()
		id, err := q.CreateExpense(ctx, e)
		if err != nil {
			return storageErr("create expense", err)
		}
		e.ID = id

		if attach == nil {
			attachments = []core.Attachment{}
			return nil
		}
		attachments, err = attach(ctx, id)
		if err != nil {
			return err
		}
		for i := range attachments {
			attachments[i].ExpenseID = id
			if err := q.CreateAttachment(ctx, attachments[i], e.CreatedAt); err != nil {
				return storageErr("create attachment", err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Expense{}, nil, err
	}

	slog.InfoContext(ctx, "Expense recorded",
		"expense_id", e.ID,
		"service_order_id", e.ServiceOrderID,
		"spent_cents", e.SpentAmount.Cents,
		"bill_cents", e.BillAmount.Cents,
		"date", e.Date.String(),
		"attachments", len(attachments))
	return e, attachments, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	e, err := r.queries.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, readErr(fmt.Sprintf("expense %d", id), err)
	}
	return e, nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, f core.ExpenseFilter) ([]core.Expense, error) {
	if err := f.Range.Validate(); err != nil {
		return nil, err
	}
	items, err := r.queries.ListExpenses(ctx, listExpensesParams(f))
	if err != nil {
		return nil, storageErr("list expenses", err)
	}
	return items, nil
}

// ListExpensesWithAttachments reads expenses and their attachments inside
// one read transaction so the two halves agree.
func (r *SQLiteRepository) ListExpensesWithAttachments(ctx context.Context, f core.ExpenseFilter) ([]core.ExpenseWithAttachments, error) {
	if err := f.Range.Validate(); err != nil {
		return nil, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin read", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	params := listExpensesParams(f)
	expenses, err := q.ListExpenses(ctx, params)
	if err != nil {
		return nil, storageErr("list expenses", err)
	}
	attachments, err := q.ListAttachmentsForExpenses(ctx, params)
	if err != nil {
		return nil, storageErr("list attachments", err)
	}

	byExpense := make(map[int64][]core.Attachment, len(expenses))
	for _, a := range attachments {
		byExpense[a.ExpenseID] = append(byExpense[a.ExpenseID], a)
	}
	out := make([]core.ExpenseWithAttachments, 0, len(expenses))
	for _, e := range expenses {
		atts := byExpense[e.ID]
		if atts == nil {
			atts = []core.Attachment{}
		}
		out = append(out, core.ExpenseWithAttachments{Expense: e, Attachments: atts})
	}
	return out, nil
}

func (r *SQLiteRepository) ListAttachments(ctx context.Context, expenseID int64) ([]core.Attachment, error) {
	items, err := r.queries.ListAttachmentsByExpense(ctx, expenseID)
	if err != nil {
		return nil, storageErr("list attachments", err)
	}
	return items, nil
}

func (r *SQLiteRepository) GetAttachment(ctx context.Context, key string) (core.Attachment, error) {
	a, err := r.queries.GetAttachment(ctx, key)
	if err != nil {
		return core.Attachment{}, readErr(fmt.Sprintf("attachment %q", key), err)
	}
	return a, nil
}

func (r *SQLiteRepository) AttachmentKeyExists(ctx context.Context, key string) (bool, error) {
	ok, err := r.queries.AttachmentKeyExists(ctx, key)
	if err != nil {
		return false, storageErr("check attachment key", err)
	}
	return ok, nil
}

// DeleteExpense removes the expense and its attachment rows, returning the
// removed attachments so the caller can drop their blobs.
func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id int64) (core.Expense, []core.Attachment, error) {
	var (
		expense     core.Expense
		attachments []core.Attachment
	)
	err := r.write(ctx, func(q *Queries) error {
		var err error
		expense, err = q.GetExpense(ctx, id)
		if err != nil {
			return readErr(fmt.Sprintf("expense %d", id), err)
		}
		attachments, err = q.ListAttachmentsByExpense(ctx, id)
		if err != nil {
			return storageErr("list attachments", err)
		}
		if _, err := q.DeleteExpense(ctx, id); err != nil {
			return storageErr("delete expense", err)
		}
		return nil
	})
	if err != nil {
		return core.Expense{}, nil, err
	}
	slog.InfoContext(ctx, "Expense deleted", "expense_id", id, "attachments", len(attachments))
	return expense, attachments, nil
}

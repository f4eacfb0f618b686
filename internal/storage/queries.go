package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gastos/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const timestampLayout = time.RFC3339Nano

type scanner interface {
	Scan(dest ...any) error
}

// Banks

const createBank = `INSERT INTO banks (name, account_number, created_at) VALUES (?, ?, ?)`

func (q *Queries) CreateBank(ctx context.Context, b core.Bank, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, createBank, b.Name, b.AccountNumber, now.UTC().Format(timestampLayout))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const listBanks = `SELECT id, name, account_number FROM banks ORDER BY id`

func (q *Queries) ListBanks(ctx context.Context) ([]core.Bank, error) {
	rows, err := q.db.QueryContext(ctx, listBanks)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []core.Bank{}
	for rows.Next() {
		var b core.Bank
		if err := rows.Scan(&b.ID, &b.Name, &b.AccountNumber); err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

const getBank = `SELECT id, name, account_number FROM banks WHERE id = ?`

func (q *Queries) GetBank(ctx context.Context, id int64) (core.Bank, error) {
	var b core.Bank
	err := q.db.QueryRowContext(ctx, getBank, id).Scan(&b.ID, &b.Name, &b.AccountNumber)
	return b, err
}

const updateBank = `UPDATE banks SET name = ?, account_number = ? WHERE id = ?`

func (q *Queries) UpdateBank(ctx context.Context, id int64, b core.Bank) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateBank, b.Name, b.AccountNumber, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteBank = `DELETE FROM banks WHERE id = ?`

func (q *Queries) DeleteBank(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteBank, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countExpensesByBank = `SELECT COUNT(*) FROM expenses WHERE bank_id = ?`

func (q *Queries) CountExpensesByBank(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countExpensesByBank, id).Scan(&n)
	return n, err
}

// Providers

const createProvider = `INSERT INTO providers (name, created_at) VALUES (?, ?)`

func (q *Queries) CreateProvider(ctx context.Context, p core.Provider, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, createProvider, p.Name, now.UTC().Format(timestampLayout))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const listProviders = `SELECT id, name FROM providers ORDER BY id`

func (q *Queries) ListProviders(ctx context.Context) ([]core.Provider, error) {
	rows, err := q.db.QueryContext(ctx, listProviders)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []core.Provider{}
	for rows.Next() {
		var p core.Provider
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

const getProvider = `SELECT id, name FROM providers WHERE id = ?`

func (q *Queries) GetProvider(ctx context.Context, id int64) (core.Provider, error) {
	var p core.Provider
	err := q.db.QueryRowContext(ctx, getProvider, id).Scan(&p.ID, &p.Name)
	return p, err
}

const updateProvider = `UPDATE providers SET name = ? WHERE id = ?`

func (q *Queries) UpdateProvider(ctx context.Context, id int64, p core.Provider) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateProvider, p.Name, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteProvider = `DELETE FROM providers WHERE id = ?`

func (q *Queries) DeleteProvider(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteProvider, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countExpensesByProvider = `SELECT COUNT(*) FROM expenses WHERE provider_id = ?`

func (q *Queries) CountExpensesByProvider(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countExpensesByProvider, id).Scan(&n)
	return n, err
}

// Service orders

const createServiceOrder = `INSERT INTO service_orders (number, billable_cents, created_at) VALUES (?, ?, ?)`

func (q *Queries) CreateServiceOrder(ctx context.Context, o core.ServiceOrder, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, createServiceOrder, o.Number, o.BillableAmount.Cents, now.UTC().Format(timestampLayout))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const serviceOrderColumns = `so.id, so.number, so.billable_cents,
    EXISTS (SELECT 1 FROM expenses e WHERE e.service_order_id = so.id) AS collected`

func scanServiceOrder(s scanner) (core.ServiceOrder, error) {
	var o core.ServiceOrder
	err := s.Scan(&o.ID, &o.Number, &o.BillableAmount.Cents, &o.Collected)
	return o, err
}

const listServiceOrders = `SELECT ` + serviceOrderColumns + ` FROM service_orders so ORDER BY so.id`

func (q *Queries) ListServiceOrders(ctx context.Context) ([]core.ServiceOrder, error) {
	rows, err := q.db.QueryContext(ctx, listServiceOrders)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []core.ServiceOrder{}
	for rows.Next() {
		o, err := scanServiceOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

const getServiceOrder = `SELECT ` + serviceOrderColumns + ` FROM service_orders so WHERE so.id = ?`

func (q *Queries) GetServiceOrder(ctx context.Context, id int64) (core.ServiceOrder, error) {
	return scanServiceOrder(q.db.QueryRowContext(ctx, getServiceOrder, id))
}

const serviceOrderNumberTaken = `SELECT EXISTS (SELECT 1 FROM service_orders WHERE number = ? AND id != ?)`

func (q *Queries) ServiceOrderNumberTaken(ctx context.Context, number string, exceptID int64) (bool, error) {
	var taken bool
	err := q.db.QueryRowContext(ctx, serviceOrderNumberTaken, number, exceptID).Scan(&taken)
	return taken, err
}

const updateServiceOrder = `UPDATE service_orders SET number = ?, billable_cents = ? WHERE id = ?`

func (q *Queries) UpdateServiceOrder(ctx context.Context, id int64, o core.ServiceOrder) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateServiceOrder, o.Number, o.BillableAmount.Cents, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteServiceOrder = `DELETE FROM service_orders WHERE id = ?`

func (q *Queries) DeleteServiceOrder(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteServiceOrder, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countExpensesByServiceOrder = `SELECT COUNT(*) FROM expenses WHERE service_order_id = ?`

func (q *Queries) CountExpensesByServiceOrder(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countExpensesByServiceOrder, id).Scan(&n)
	return n, err
}

// Expenses

const createExpense = `INSERT INTO expenses
    (service_order_id, bank_id, provider_id, spent_cents, bill_cents, expense_date, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateExpense(ctx context.Context, e core.Expense) (int64, error) {
	res, err := q.db.ExecContext(ctx, createExpense,
		e.ServiceOrderID,
		e.BankID,
		e.ProviderID,
		e.SpentAmount.Cents,
		e.BillAmount.Cents,
		e.Date.String(),
		e.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const expenseColumns = `id, service_order_id, bank_id, provider_id, spent_cents, bill_cents, expense_date, created_at`

func scanExpense(s scanner) (core.Expense, error) {
	var (
		e         core.Expense
		date      string
		createdAt string
	)
	if err := s.Scan(&e.ID, &e.ServiceOrderID, &e.BankID, &e.ProviderID,
		&e.SpentAmount.Cents, &e.BillAmount.Cents, &date, &createdAt); err != nil {
		return core.Expense{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %d has corrupt date %q: %w", e.ID, date, err)
	}
	e.Date = d
	if t, err := time.Parse(timestampLayout, createdAt); err == nil {
		e.CreatedAt = t
	}
	return e, nil
}

const getExpense = `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`

func (q *Queries) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	return scanExpense(q.db.QueryRowContext(ctx, getExpense, id))
}

// ListExpensesParams uses NULL for "no restriction".
type ListExpensesParams struct {
	ServiceOrderID sql.NullInt64
	FromDate       sql.NullString
	ToDate         sql.NullString
}

func listExpensesParams(f core.ExpenseFilter) ListExpensesParams {
	var p ListExpensesParams
	if f.ServiceOrderID > 0 {
		p.ServiceOrderID = sql.NullInt64{Int64: f.ServiceOrderID, Valid: true}
	}
	if !f.Range.From.IsZero() {
		p.FromDate = sql.NullString{String: f.Range.From.String(), Valid: true}
	}
	if !f.Range.To.IsZero() {
		p.ToDate = sql.NullString{String: f.Range.To.String(), Valid: true}
	}
	return p
}

const listExpenses = `SELECT ` + expenseColumns + ` FROM expenses
WHERE (?1 IS NULL OR service_order_id = ?1)
  AND (?2 IS NULL OR expense_date >= ?2)
  AND (?3 IS NULL OR expense_date <= ?3)
ORDER BY expense_date ASC, id ASC`

func (q *Queries) ListExpenses(ctx context.Context, arg ListExpensesParams) ([]core.Expense, error) {
	rows, err := q.db.QueryContext(ctx, listExpenses, arg.ServiceOrderID, arg.FromDate, arg.ToDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []core.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const deleteExpense = `DELETE FROM expenses WHERE id = ?`

func (q *Queries) DeleteExpense(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpense, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Attachments

const createAttachment = `INSERT INTO attachments
    (attachment_key, expense_id, original_filename, category, content_type, size_bytes, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateAttachment(ctx context.Context, a core.Attachment, now time.Time) error {
	_, err := q.db.ExecContext(ctx, createAttachment,
		a.Key,
		a.ExpenseID,
		a.OriginalFilename,
		string(a.Category),
		a.ContentType,
		a.SizeBytes,
		now.UTC().Format(timestampLayout),
	)
	return err
}

const attachmentColumns = `a.attachment_key, a.expense_id, a.original_filename, a.category, a.content_type, a.size_bytes`

func scanAttachment(s scanner) (core.Attachment, error) {
	var (
		a   core.Attachment
		cat string
	)
	err := s.Scan(&a.Key, &a.ExpenseID, &a.OriginalFilename, &cat, &a.ContentType, &a.SizeBytes)
	a.Category = core.Category(cat)
	return a, err
}

const getAttachment = `SELECT ` + attachmentColumns + ` FROM attachments a WHERE a.attachment_key = ?`

func (q *Queries) GetAttachment(ctx context.Context, key string) (core.Attachment, error) {
	return scanAttachment(q.db.QueryRowContext(ctx, getAttachment, key))
}

const listAttachmentsByExpense = `SELECT ` + attachmentColumns + ` FROM attachments a
WHERE a.expense_id = ? ORDER BY a.created_at, a.attachment_key`

func (q *Queries) ListAttachmentsByExpense(ctx context.Context, expenseID int64) ([]core.Attachment, error) {
	rows, err := q.db.QueryContext(ctx, listAttachmentsByExpense, expenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttachments(rows)
}

// ListAttachmentsForExpenses returns the attachments of every expense that
// matches the same filter as ListExpenses.
const listAttachmentsForExpenses = `SELECT ` + attachmentColumns + ` FROM attachments a
JOIN expenses e ON e.id = a.expense_id
WHERE (?1 IS NULL OR e.service_order_id = ?1)
  AND (?2 IS NULL OR e.expense_date >= ?2)
  AND (?3 IS NULL OR e.expense_date <= ?3)
ORDER BY a.expense_id, a.created_at, a.attachment_key`

func (q *Queries) ListAttachmentsForExpenses(ctx context.Context, arg ListExpensesParams) ([]core.Attachment, error) {
	rows, err := q.db.QueryContext(ctx, listAttachmentsForExpenses, arg.ServiceOrderID, arg.FromDate, arg.ToDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttachments(rows)
}

func collectAttachments(rows *sql.Rows) ([]core.Attachment, error) {
	items := []core.Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const attachmentKeyExists = `SELECT EXISTS (SELECT 1 FROM attachments WHERE attachment_key = ?)`

func (q *Queries) AttachmentKeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, attachmentKeyExists, key).Scan(&exists)
	return exists, err
}

const referenceCheck = `SELECT
    EXISTS (SELECT 1 FROM service_orders WHERE id = ?),
    EXISTS (SELECT 1 FROM banks WHERE id = ?),
    EXISTS (SELECT 1 FROM providers WHERE id = ?)`

// ReferencesExist reports which of the expense's foreign keys resolve.
func (q *Queries) ReferencesExist(ctx context.Context, e core.Expense) (order, bank, provider bool, err error) {
	err = q.db.QueryRowContext(ctx, referenceCheck, e.ServiceOrderID, e.BankID, e.ProviderID).Scan(&order, &bank, &provider)
	return order, bank, provider, err
}

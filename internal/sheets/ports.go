// Package sheets defines the outbound port for exporting ledger entries to
// a spreadsheet.
package sheets

import (
	"context"

	"gastos/internal/core"
)

// ExpenseRow is one exported ledger entry.
type ExpenseRow struct {
	ExpenseID      int64
	Date           core.Date
	ServiceOrderID int64
	BankID         int64
	ProviderID     int64
	Spent          core.Money
	Bill           core.Money
	Attachments    int
}

// Header is the first row written to an empty sheet.
var Header = []any{"Expense", "Date", "Service order", "Bank", "Provider", "Spent", "Bill", "Attachments"}

// Values renders r in Header column order.
func (r ExpenseRow) Values() []any {
	return []any{
		r.ExpenseID,
		r.Date.String(),
		r.ServiceOrderID,
		r.BankID,
		r.ProviderID,
		r.Spent.String(),
		r.Bill.String(),
		r.Attachments,
	}
}

// ExpenseExporter mirrors the ledger into a sheet. Both operations are
// idempotent so redelivered events are harmless.
type ExpenseExporter interface {
	AppendExpense(ctx context.Context, row ExpenseRow) (rowRef string, err error)
	RemoveExpense(ctx context.Context, expenseID int64) error
}

// Package memory is an in-process ExpenseExporter used when no Google
// credentials are configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"gastos/internal/sheets"
)

type Exporter struct {
	mu   sync.Mutex
	rows []sheets.ExpenseRow
}

var _ sheets.ExpenseExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{}
}

func (e *Exporter) AppendExpense(_ context.Context, row sheets.ExpenseRow) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rows {
		if r.ExpenseID == row.ExpenseID {
			return fmt.Sprintf("mem:%d", i+1), nil
		}
	}
	e.rows = append(e.rows, row)
	return fmt.Sprintf("mem:%d", len(e.rows)), nil
}

func (e *Exporter) RemoveExpense(_ context.Context, expenseID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rows {
		if r.ExpenseID == expenseID {
			e.rows = append(e.rows[:i], e.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

// Rows returns a copy of the exported rows in append order.
func (e *Exporter) Rows() []sheets.ExpenseRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sheets.ExpenseRow(nil), e.rows...)
}

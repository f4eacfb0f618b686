package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/sheets"
)

// Consumer is the part of the AMQP client the worker drives.
type Consumer interface {
	ConsumeExpenseEvents(ctx context.Context, handler amqp.Handler) error
	Reconnect(ctx context.Context) error
}

// ExportWorker mirrors ledger events into a spreadsheet.
type ExportWorker struct {
	exporter sheets.ExpenseExporter
	timeout  time.Duration
}

func NewExportWorker(exporter sheets.ExpenseExporter, timeout time.Duration) *ExportWorker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExportWorker{exporter: exporter, timeout: timeout}
}

// HandleEvent applies one event. An error makes the broker redeliver it.
func (w *ExportWorker) HandleEvent(ctx context.Context, msg *amqp.ExpenseEvent) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	switch msg.Type {
	case amqp.EventExpenseRecorded:
		ref, err := w.exporter.AppendExpense(ctx, rowFromEvent(msg))
		if err != nil {
			return fmt.Errorf("export expense %d: %w", msg.ExpenseID, err)
		}
		slog.InfoContext(ctx, "Expense exported",
			"expense_id", msg.ExpenseID,
			"service_order_id", msg.ServiceOrderID,
			"sheets_ref", ref)
	case amqp.EventExpenseDeleted:
		if err := w.exporter.RemoveExpense(ctx, msg.ExpenseID); err != nil {
			return fmt.Errorf("remove expense %d: %w", msg.ExpenseID, err)
		}
		slog.InfoContext(ctx, "Expense removed from export", "expense_id", msg.ExpenseID)
	default:
		slog.WarnContext(ctx, "Ignoring unknown event", "event_type", msg.Type, "event_id", msg.ID)
	}
	return nil
}

func rowFromEvent(msg *amqp.ExpenseEvent) sheets.ExpenseRow {
	return sheets.ExpenseRow{
		ExpenseID:      msg.ExpenseID,
		Date:           msg.Date,
		ServiceOrderID: msg.ServiceOrderID,
		BankID:         msg.BankID,
		ProviderID:     msg.ProviderID,
		Spent:          msg.SpentAmount,
		Bill:           msg.BillAmount,
		Attachments:    len(msg.AttachmentKeys),
	}
}

// Run consumes until ctx is cancelled, reconnecting whenever the broker
// drops the channel.
func (w *ExportWorker) Run(ctx context.Context, c Consumer) error {
	for {
		err := c.ConsumeExpenseEvents(ctx, w.HandleEvent)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("consumer stopped")
		}
		slog.WarnContext(ctx, "Consumer interrupted, reconnecting", "error", err)
		if err := c.Reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reconnect: %w", err)
		}
	}
}

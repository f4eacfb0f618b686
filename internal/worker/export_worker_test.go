package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/sheets"
	"gastos/internal/sheets/memory"
)

func recorded(id int64) *amqp.ExpenseEvent {
	return amqp.NewExpenseRecorded(core.Expense{
		ID:             id,
		ServiceOrderID: 1,
		BankID:         2,
		ProviderID:     3,
		SpentAmount:    core.Money{Cents: 1000},
		BillAmount:     core.Money{Cents: 1500},
		Date:           core.NewDate(2025, 4, 2),
	}, []core.Attachment{{Key: "a"}, {Key: "b"}})
}

func TestHandleEvent(t *testing.T) {
	exp := memory.New()
	w := NewExportWorker(exp, time.Second)
	ctx := context.Background()

	if err := w.HandleEvent(ctx, recorded(7)); err != nil {
		t.Fatalf("HandleEvent(recorded): %v", err)
	}
	// Redelivery must not duplicate the row.
	if err := w.HandleEvent(ctx, recorded(7)); err != nil {
		t.Fatalf("HandleEvent(redelivered): %v", err)
	}
	rows := exp.Rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	want := sheets.ExpenseRow{
		ExpenseID: 7, Date: core.NewDate(2025, 4, 2), ServiceOrderID: 1, BankID: 2, ProviderID: 3,
		Spent: core.Money{Cents: 1000}, Bill: core.Money{Cents: 1500}, Attachments: 2,
	}
	if rows[0] != want {
		t.Errorf("row = %+v, want %+v", rows[0], want)
	}

	if err := w.HandleEvent(ctx, amqp.NewExpenseDeleted(core.Expense{ID: 7}, nil)); err != nil {
		t.Fatalf("HandleEvent(deleted): %v", err)
	}
	if len(exp.Rows()) != 0 {
		t.Errorf("row not removed")
	}
}

type failingExporter struct{}

func (failingExporter) AppendExpense(context.Context, sheets.ExpenseRow) (string, error) {
	return "", errors.New("quota exceeded")
}
func (failingExporter) RemoveExpense(context.Context, int64) error { return nil }

func TestHandleEventPropagatesExportErrors(t *testing.T) {
	w := NewExportWorker(failingExporter{}, time.Second)
	if err := w.HandleEvent(context.Background(), recorded(1)); err == nil {
		t.Fatal("expected error so the message is requeued")
	}
}

type scriptedConsumer struct {
	consumeCalls   int
	reconnectCalls int
	cancel         context.CancelFunc
}

func (s *scriptedConsumer) ConsumeExpenseEvents(ctx context.Context, h amqp.Handler) error {
	s.consumeCalls++
	if s.consumeCalls == 1 {
		return errors.New("message channel closed")
	}
	s.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func (s *scriptedConsumer) Reconnect(context.Context) error {
	s.reconnectCalls++
	return nil
}

func TestRunReconnectsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &scriptedConsumer{cancel: cancel}

	if err := NewExportWorker(memory.New(), time.Second).Run(ctx, c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.consumeCalls != 2 || c.reconnectCalls != 1 {
		t.Errorf("consume=%d reconnect=%d", c.consumeCalls, c.reconnectCalls)
	}
}

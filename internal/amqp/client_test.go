package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gastos/internal/core"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{15, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := exponentialBackoff(tt.attempt); got != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"validation error", errors.New("invalid input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	client := &Client{exchangeName: "test_exchange", queueName: "test_queue"}

	if client.isCircuitOpen() {
		t.Fatal("circuit should start closed")
	}

	for i := 0; i < maxFailures; i++ {
		client.recordFailure()
	}
	if !client.isCircuitOpen() {
		t.Fatal("circuit should open after max failures")
	}

	client.lastFailure = time.Now().Add(-openTimeout - time.Second)
	if client.isCircuitOpen() {
		t.Error("circuit should half-open after the timeout")
	}
	if atomic.LoadInt32(&client.state) != StateHalfOpen {
		t.Errorf("state = %d, want half-open", client.state)
	}

	client.recordFailure()
	if atomic.LoadInt32(&client.state) != StateOpen {
		t.Error("a failure while half-open should reopen the circuit")
	}

	client.recordSuccess()
	if client.isCircuitOpen() || atomic.LoadInt64(&client.failureCount) != 0 {
		t.Error("success should close the circuit and reset failures")
	}
}

func TestClient_PublishGuards(t *testing.T) {
	client := &Client{exchangeName: "test_exchange", queueName: "test_queue"}
	msg := NewExpenseRecorded(core.Expense{ID: 1}, nil)

	t.Run("open circuit", func(t *testing.T) {
		atomic.StoreInt32(&client.state, StateOpen)
		client.lastFailure = time.Now()
		err := client.PublishExpenseEvent(context.Background(), msg)
		if !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("error = %v, want ErrCircuitOpen", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		client.recordSuccess()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := client.PublishExpenseEvent(ctx, msg); err != context.Canceled {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

func TestExpenseEventJSON(t *testing.T) {
	e := core.Expense{
		ID:             9,
		ServiceOrderID: 2,
		BankID:         3,
		ProviderID:     4,
		SpentAmount:    core.Money{Cents: 40000},
		BillAmount:     core.Money{Cents: 50000},
		Date:           core.NewDate(2025, 3, 10),
	}
	msg := NewExpenseRecorded(e, []core.Attachment{{Key: "9_invoice_f.pdf"}})
	if msg.ID == "" || msg.OccurredAt.IsZero() {
		t.Fatalf("event not stamped: %+v", msg)
	}

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !strings.Contains(string(body), `"type":"expense.recorded"`) || !strings.Contains(string(body), `"date":"2025-03-10"`) {
		t.Errorf("body = %s", body)
	}

	got, err := ExpenseEventFromJSON(body)
	if err != nil {
		t.Fatalf("ExpenseEventFromJSON: %v", err)
	}
	if got.ExpenseID != 9 || got.SpentAmount.Cents != 40000 || len(got.AttachmentKeys) != 1 {
		t.Errorf("decoded = %+v", got)
	}
}

func TestExpenseEventFromJSONRejects(t *testing.T) {
	for _, body := range []string{
		`{"type":"expense.recorded","expenseId":"x"}`,
		`{"type":"expense.updated","expenseId":1}`,
		`{"type":"expense.deleted"}`,
		`not json`,
	} {
		if _, err := ExpenseEventFromJSON([]byte(body)); err == nil {
			t.Errorf("ExpenseEventFromJSON(%s) should fail", body)
		}
	}
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(_, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func TestHandleDelivery(t *testing.T) {
	body, _ := NewExpenseDeleted(core.Expense{ID: 5}, nil).ToJSON()

	t.Run("success acks", func(t *testing.T) {
		ack := &fakeAck{}
		HandleDelivery(context.Background(), body, ack, func(context.Context, *ExpenseEvent) error { return nil })
		if !ack.acked || ack.nacked {
			t.Errorf("ack = %+v", ack)
		}
	})

	t.Run("handler error requeues", func(t *testing.T) {
		ack := &fakeAck{}
		HandleDelivery(context.Background(), body, ack, func(context.Context, *ExpenseEvent) error { return errors.New("sheets down") })
		if !ack.nacked || !ack.requeued {
			t.Errorf("ack = %+v", ack)
		}
	})

	t.Run("malformed body is dropped", func(t *testing.T) {
		ack := &fakeAck{}
		called := false
		HandleDelivery(context.Background(), []byte("{"), ack, func(context.Context, *ExpenseEvent) error { called = true; return nil })
		if called || !ack.nacked || ack.requeued {
			t.Errorf("called=%v ack=%+v", called, ack)
		}
	})
}

package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gastos/internal/core"
)

// Event types double as routing keys on the topic exchange.
const (
	EventExpenseRecorded = "expense.recorded"
	EventExpenseDeleted  = "expense.deleted"
)

// ExpenseEvent carries a full snapshot of the expense so consumers never
// need to read the ledger back.
type ExpenseEvent struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	ExpenseID      int64      `json:"expenseId"`
	ServiceOrderID int64      `json:"serviceOrderId"`
	BankID         int64      `json:"bankId"`
	ProviderID     int64      `json:"providerId"`
	SpentAmount    core.Money `json:"spentAmount"`
	BillAmount     core.Money `json:"billAmount"`
	Date           core.Date  `json:"date"`
	AttachmentKeys []string   `json:"attachmentKeys"`
	OccurredAt     time.Time  `json:"occurredAt"`
}

func newExpenseEvent(eventType string, e core.Expense, attachments []core.Attachment) *ExpenseEvent {
	keys := make([]string, 0, len(attachments))
	for _, a := range attachments {
		keys = append(keys, a.Key)
	}
	return &ExpenseEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		ExpenseID:      e.ID,
		ServiceOrderID: e.ServiceOrderID,
		BankID:         e.BankID,
		ProviderID:     e.ProviderID,
		SpentAmount:    e.SpentAmount,
		BillAmount:     e.BillAmount,
		Date:           e.Date,
		AttachmentKeys: keys,
		OccurredAt:     time.Now().UTC(),
	}
}

func NewExpenseRecorded(e core.Expense, attachments []core.Attachment) *ExpenseEvent {
	return newExpenseEvent(EventExpenseRecorded, e, attachments)
}

func NewExpenseDeleted(e core.Expense, attachments []core.Attachment) *ExpenseEvent {
	return newExpenseEvent(EventExpenseDeleted, e, attachments)
}

func (m *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseEventFromJSON decodes and sanity-checks a message body.
func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var msg ExpenseEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case EventExpenseRecorded, EventExpenseDeleted:
	default:
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}
	if msg.ExpenseID <= 0 {
		return nil, fmt.Errorf("event %s has no expense id", msg.ID)
	}
	return &msg, nil
}

package core

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// NotApplicable is how an undefined percentage is shown.
const NotApplicable = "N/A"

// Percentage is spent/billable*100. It is undefined when nothing is billable.
type Percentage struct {
	Value   decimal.Decimal
	Defined bool
}

// PercentageOf returns spent/billable*100, undefined when billable is zero.
func PercentageOf(spent, billable Money) Percentage {
	if billable.Cents <= 0 {
		return Percentage{}
	}
	v := decimal.NewFromInt(spent.Cents).Mul(hundred).Div(decimal.NewFromInt(billable.Cents))
	return Percentage{Value: v, Defined: true}
}

// String renders two decimals, or "N/A".
func (p Percentage) String() string {
	if !p.Defined {
		return NotApplicable
	}
	return p.Value.StringFixed(2)
}

func (p Percentage) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// BankTotal is the spend charged through one bank account.
type BankTotal struct {
	BankID        int64  `json:"bankId"`
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber"`
	Spent         Money  `json:"spent"`
}

// ProviderTotal is the spend paid to one provider.
type ProviderTotal struct {
	ProviderID int64  `json:"providerId"`
	Name       string `json:"name"`
	Spent      Money  `json:"spent"`
}

// ServiceOrderTotal compares what was spent on an order with what will be billed.
type ServiceOrderTotal struct {
	ServiceOrderID int64      `json:"serviceOrderId"`
	Number         string     `json:"number"`
	BillableAmount Money      `json:"billableAmount"`
	Spent          Money      `json:"spent"`
	Billable       Money      `json:"billable"`
	Percentage     Percentage `json:"percentage"`
	ExpenseCount   int        `json:"expenseCount"`
}

// Report is the joined roll-up for a date window.
type Report struct {
	Range             DateRange           `json:"range"`
	ByBank            []BankTotal         `json:"byBank"`
	ByProvider        []ProviderTotal     `json:"byProvider"`
	ByServiceOrder    []ServiceOrderTotal `json:"byServiceOrder"`
	AveragePercentage Percentage          `json:"averagePercentage"`
	TotalSpent        Money               `json:"totalSpent"`
	ExpenseCount      int                 `json:"expenseCount"`
	GeneratedAt       time.Time           `json:"generatedAt"`
}

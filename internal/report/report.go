// Package report computes read-only roll-ups over a snapshot of the expense
// ledger. Every function here is pure: the same expenses and window always
// give the same result, and the input slice is never modified.
package report

import (
	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

// OrderTotals accumulates one service order's spend and bill amounts.
type OrderTotals struct {
	Spent    core.Money
	Billable core.Money
	Count    int
}

// Percentage is Spent/Billable*100, undefined when Billable is zero.
func (t OrderTotals) Percentage() core.Percentage {
	return core.PercentageOf(t.Spent, t.Billable)
}

// Summary is the raw aggregation result keyed by entity id.
type Summary struct {
	ByBank            map[int64]core.Money
	ByProvider        map[int64]core.Money
	ByServiceOrder    map[int64]OrderTotals
	AveragePercentage core.Percentage
	TotalSpent        core.Money
	ExpenseCount      int
}

// Filter returns the expenses whose date falls inside r.
func Filter(expenses []core.Expense, r core.DateRange) []core.Expense {
	out := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		if r.Contains(e.Date) {
			out = append(out, e)
		}
	}
	return out
}

// TotalByBank sums SpentAmount per bank.
func TotalByBank(expenses []core.Expense) map[int64]core.Money {
	out := make(map[int64]core.Money)
	for _, e := range expenses {
		out[e.BankID] = out[e.BankID].Add(e.SpentAmount)
	}
	return out
}

// TotalByProvider sums SpentAmount per provider.
func TotalByProvider(expenses []core.Expense) map[int64]core.Money {
	out := make(map[int64]core.Money)
	for _, e := range expenses {
		out[e.ProviderID] = out[e.ProviderID].Add(e.SpentAmount)
	}
	return out
}

// TotalByServiceOrder sums SpentAmount and BillAmount per service order.
func TotalByServiceOrder(expenses []core.Expense) map[int64]OrderTotals {
	out := make(map[int64]OrderTotals)
	for _, e := range expenses {
		t := out[e.ServiceOrderID]
		t.Spent = t.Spent.Add(e.SpentAmount)
		t.Billable = t.Billable.Add(e.BillAmount)
		t.Count++
		out[e.ServiceOrderID] = t
	}
	return out
}

// AveragePercentage is the arithmetic mean of the defined per-order
// percentages. Orders with an undefined percentage are left out of the mean
// rather than counted as zero; with no defined percentage the mean is undefined.
func AveragePercentage(byOrder map[int64]OrderTotals) core.Percentage {
	sum := decimal.Zero
	n := int64(0)
	for _, t := range byOrder {
		p := t.Percentage()
		if !p.Defined {
			continue
		}
		sum = sum.Add(p.Value)
		n++
	}
	if n == 0 {
		return core.Percentage{}
	}
	return core.Percentage{Value: sum.Div(decimal.NewFromInt(n)), Defined: true}
}

// Compute runs every aggregation over the expenses inside r.
func Compute(expenses []core.Expense, r core.DateRange) Summary {
	window := Filter(expenses, r)
	byOrder := TotalByServiceOrder(window)

	var total core.Money
	for _, e := range window {
		total = total.Add(e.SpentAmount)
	}

	return Summary{
		ByBank:            TotalByBank(window),
		ByProvider:        TotalByProvider(window),
		ByServiceOrder:    byOrder,
		AveragePercentage: AveragePercentage(byOrder),
		TotalSpent:        total,
		ExpenseCount:      len(window),
	}
}

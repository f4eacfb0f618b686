package report

import (
	"time"

	"gastos/internal/core"
)

// Catalog is the entity snapshot used to put names on a Summary.
type Catalog struct {
	Banks         []core.Bank
	Providers     []core.Provider
	ServiceOrders []core.ServiceOrder
}

// Join turns a Summary into a display Report. Every catalog entity is listed
// in catalog order, including those with no spend in the window.
func Join(s Summary, c Catalog, r core.DateRange, generatedAt time.Time) core.Report {
	rep := core.Report{
		Range:             r,
		ByBank:            make([]core.BankTotal, 0, len(c.Banks)),
		ByProvider:        make([]core.ProviderTotal, 0, len(c.Providers)),
		ByServiceOrder:    make([]core.ServiceOrderTotal, 0, len(c.ServiceOrders)),
		AveragePercentage: s.AveragePercentage,
		TotalSpent:        s.TotalSpent,
		ExpenseCount:      s.ExpenseCount,
		GeneratedAt:       generatedAt,
	}

	for _, b := range c.Banks {
		rep.ByBank = append(rep.ByBank, core.BankTotal{
			BankID:        b.ID,
			Name:          b.Name,
			AccountNumber: b.AccountNumber,
			Spent:         s.ByBank[b.ID],
		})
	}
	for _, p := range c.Providers {
		rep.ByProvider = append(rep.ByProvider, core.ProviderTotal{
			ProviderID: p.ID,
			Name:       p.Name,
			Spent:      s.ByProvider[p.ID],
		})
	}
	for _, o := range c.ServiceOrders {
		t := s.ByServiceOrder[o.ID]
		rep.ByServiceOrder = append(rep.ByServiceOrder, core.ServiceOrderTotal{
			ServiceOrderID: o.ID,
			Number:         o.Number,
			BillableAmount: o.BillableAmount,
			Spent:          t.Spent,
			Billable:       t.Billable,
			Percentage:     t.Percentage(),
			ExpenseCount:   t.Count,
		})
	}
	return rep
}

package expense

import "time"

// Statistics summarizes a set of expenses
type Statistics struct {
	Total        float64            `json:"total"`
	MonthlyTotal float64            `json:"monthlyTotal"`
	ByCategory   map[string]float64 `json:"byCategory"`
	ExpenseCount int                `json:"expenseCount"`
}

// Summarize computes totals over expenses. MonthlyTotal only counts expenses
// dated in the same calendar month and year as now. Sums are plain float64
// additions in slice order.
func Summarize(expenses []*Expense, now time.Time) Statistics {
	stats := Statistics{
		ByCategory:   make(map[string]float64),
		ExpenseCount: len(expenses),
	}

	year, month, _ := now.Date()
	for _, e := range expenses {
		stats.Total += e.Amount
		stats.ByCategory[e.Category] += e.Amount

		d, ok := parseDate(e.Date)
		if !ok {
			continue
		}
		if y, m, _ := d.Date(); y == year && m == month {
			stats.MonthlyTotal += e.Amount
		}
	}

	return stats
}

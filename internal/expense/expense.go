package expense

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for Expense.Date
const DateLayout = "2006-01-02"

// Expense represents a single recorded expenditure
type Expense struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	Category    string    `json:"category"`
	Vendor      string    `json:"vendor"`
	Date        string    `json:"date"` // YYYY-MM-DD
	Description string    `json:"description"`
	PhotoURL    string    `json:"photoUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Fields holds the editable fields of an expense for create and update.
// Amount is a pointer so that a missing amount can be told apart from zero.
type Fields struct {
	Amount      *float64 `json:"amount"`
	Category    string   `json:"category"`
	Vendor      string   `json:"vendor"`
	Date        string   `json:"date"`
	Description string   `json:"description"`
	PhotoURL    string   `json:"photoUrl"`
}

// Validate checks that the required fields are present
func (f Fields) Validate() error {
	var missing []string
	if f.Amount == nil {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(f.Category) == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(f.Date) == "" {
		missing = append(missing, "date")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// apply copies the editable fields onto e
func (f Fields) apply(e *Expense) {
	e.Amount = *f.Amount
	e.Category = f.Category
	e.Vendor = f.Vendor
	e.Date = f.Date
	e.Description = f.Description
	e.PhotoURL = f.PhotoURL
}

// parseDate parses an expense date, accepting a full RFC 3339 timestamp as well
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d, true
	}
	if d, err := time.Parse(time.RFC3339, s); err == nil {
		return d, true
	}
	return time.Time{}, false
}

package expenses

import "github.com/Overland-East-Bay/expense-sources-api/internal/domain"

// MaxNameLength bounds expense source names, in runes, after normalization.
const MaxNameLength = 200

type CreateExpenseSourceInput struct {
	Name    string
	Expense domain.RecurringMoneyValue
}

type UpdateExpenseSourceInput struct {
	Name    string
	Expense domain.RecurringMoneyValue
}

// CreateResult is the outcome of CreateExpenseSourceOnce.
type CreateResult struct {
	Source domain.ExpenseSource
	// Body is the JSON sent for Source. A replay carries the body stored by the
	// first request.
	Body     []byte
	Replayed bool
}

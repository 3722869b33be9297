package expenserepo

import (
	"context"

	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
)

// Repository provides owner-scoped access to persisted expense sources.
//
// Every method takes the owner as an explicit argument and implementations must
// apply it as part of the lookup predicate (owner = ? AND id = ?), never as a
// filter over a broader result. A row that exists but belongs to another owner
// is indistinguishable from a row that does not exist.
//
// Result ordering expectations:
// - List returns rows ordered by ID ascending (insertion order).
type Repository interface {
	// Create inserts a new row and returns its store-assigned ID. IDs strictly increase.
	Create(ctx context.Context, owner domain.SubjectID, name string, value domain.RecurringMoneyValue) (domain.ExpenseSourceID, error)

	// Get returns the row only when both id and owner match; ok=false otherwise.
	Get(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) (src domain.ExpenseSource, ok bool, err error)

	List(ctx context.Context, owner domain.SubjectID) ([]domain.ExpenseSource, error)

	// Update replaces name and value of the matching row. It is a silent no-op when
	// no row matches (id, owner).
	Update(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID, name string, value domain.RecurringMoneyValue) error

	// Delete removes the matching row. Deleting a missing or foreign row is a no-op.
	Delete(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) error
}

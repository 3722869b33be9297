package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Overland-East-Bay/expense-sources-api/internal/adapters/periodcodec"
	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/expenserepo"
)

var _ expenserepo.Repository = (*ExpenseRepo)(nil)

// ExpenseRepo implements expenserepo.Repository. Writes go through the single
// writer connection, reads through the reader pool.
type ExpenseRepo struct {
	db *DB
}

func NewExpenseRepo(db *DB) *ExpenseRepo {
	return &ExpenseRepo{db: db}
}

func (r *ExpenseRepo) Create(ctx context.Context, owner domain.SubjectID, name string, value domain.RecurringMoneyValue) (domain.ExpenseSourceID, error) {
	if owner == "" {
		return 0, expenserepo.ErrInvalidOwner
	}
	kind, every, err := periodcodec.EncodeChecked(value.Period)
	if err != nil {
		return 0, fmt.Errorf("create expense source: %w: %w", expenserepo.ErrQueryFailed, err)
	}

	var id int64
	err = r.db.Writer.QueryRowContext(ctx, `
		INSERT INTO expense_sources (owner, name, expense_amount, expense_period_kind, expense_period_every)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		string(owner), name, value.Amount, kind, every,
	).Scan(&id)
	if err != nil {
		return 0, classifyStoreError("create expense source", err)
	}
	return domain.ExpenseSourceID(id), nil
}

func (r *ExpenseRepo) Get(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) (domain.ExpenseSource, bool, error) {
	row := r.db.Reader.QueryRowContext(ctx, `
		SELECT id, owner, name, expense_amount, expense_period_kind, expense_period_every
		FROM expense_sources
		WHERE owner = ? AND id = ?`,
		string(owner), int64(id),
	)
	src, err := scanExpenseSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ExpenseSource{}, false, nil
	}
	if err != nil {
		return domain.ExpenseSource{}, false, classifyStoreError("get expense source", err)
	}
	return src, true, nil
}

func (r *ExpenseRepo) List(ctx context.Context, owner domain.SubjectID) ([]domain.ExpenseSource, error) {
	rows, err := r.db.Reader.QueryContext(ctx, `
		SELECT id, owner, name, expense_amount, expense_period_kind, expense_period_every
		FROM expense_sources
		WHERE owner = ?
		ORDER BY id ASC`,
		string(owner),
	)
	if err != nil {
		return nil, classifyStoreError("list expense sources", err)
	}
	defer rows.Close()

	out := make([]domain.ExpenseSource, 0)
	for rows.Next() {
		src, err := scanExpenseSource(rows)
		if err != nil {
			return nil, classifyStoreError("list expense sources", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("list expense sources", err)
	}
	return out, nil
}

func (r *ExpenseRepo) Update(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID, name string, value domain.RecurringMoneyValue) error {
	kind, every, err := periodcodec.EncodeChecked(value.Period)
	if err != nil {
		return fmt.Errorf("update expense source: %w: %w", expenserepo.ErrQueryFailed, err)
	}
	_, err = r.db.Writer.ExecContext(ctx, `
		UPDATE expense_sources
		SET name = ?,
		    expense_amount = ?,
		    expense_period_kind = ?,
		    expense_period_every = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE owner = ? AND id = ?`,
		name, value.Amount, kind, every, string(owner), int64(id),
	)
	if err != nil {
		return classifyStoreError("update expense source", err)
	}
	return nil
}

func (r *ExpenseRepo) Delete(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) error {
	_, err := r.db.Writer.ExecContext(ctx,
		`DELETE FROM expense_sources WHERE owner = ? AND id = ?`,
		string(owner), int64(id),
	)
	if err != nil {
		return classifyStoreError("delete expense source", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpenseSource(row rowScanner) (domain.ExpenseSource, error) {
	var (
		id     int64
		owner  string
		name   string
		amount int64
		kind   string
		every  int
	)
	if err := row.Scan(&id, &owner, &name, &amount, &kind, &every); err != nil {
		return domain.ExpenseSource{}, err
	}
	p, err := periodcodec.Decode(kind, every)
	if err != nil {
		return domain.ExpenseSource{}, fmt.Errorf("row %d: %w", id, err)
	}
	return domain.ExpenseSource{
		ID:      domain.ExpenseSourceID(id),
		Owner:   domain.SubjectID(owner),
		Name:    name,
		Expense: domain.RecurringMoneyValue{Amount: amount, Period: p},
	}, nil
}

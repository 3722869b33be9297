package expenserepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Overland-East-Bay/expense-sources-api/internal/adapters/periodcodec"
	postgres "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/postgres"
	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/expenserepo"
)

var _ expenserepo.Repository = (*Repo)(nil)

// Repo is a Postgres implementation of expenserepo.Repository.
//
// Every statement carries `owner = $1` in its predicate. Do not replace the
// owner-scoped queries with a broader fetch filtered in Go.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Create(ctx context.Context, owner domain.SubjectID, name string, value domain.RecurringMoneyValue) (domain.ExpenseSourceID, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("create expense source: %w: nil postgres pool", expenserepo.ErrConnectionUnavailable)
	}
	if owner == "" {
		return 0, expenserepo.ErrInvalidOwner
	}
	kind, every, err := periodcodec.EncodeChecked(value.Period)
	if err != nil {
		return 0, fmt.Errorf("create expense source: %w: %w", expenserepo.ErrQueryFailed, err)
	}

	var id int64
	err = r.pool.QueryRow(ctx, `
		INSERT INTO expense_sources (
			owner,
			name,
			expense_amount,
			expense_period_kind,
			expense_period_every
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`,
		string(owner),
		name,
		value.Amount,
		kind,
		every,
	).Scan(&id)
	if err != nil {
		return 0, postgres.ClassifyStoreError("create expense source", err)
	}
	return domain.ExpenseSourceID(id), nil
}

func (r *Repo) Get(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) (domain.ExpenseSource, bool, error) {
	if r.pool == nil {
		return domain.ExpenseSource{}, false, fmt.Errorf("get expense source: %w: nil postgres pool", expenserepo.ErrConnectionUnavailable)
	}
	row := r.pool.QueryRow(ctx, `
		SELECT
			id,
			owner,
			name,
			expense_amount,
			expense_period_kind,
			expense_period_every
		FROM expense_sources
		WHERE owner = $1 AND id = $2
	`, string(owner), int64(id))

	src, err := scanExpenseSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExpenseSource{}, false, nil
		}
		return domain.ExpenseSource{}, false, postgres.ClassifyStoreError("get expense source", err)
	}
	return src, true, nil
}

func (r *Repo) List(ctx context.Context, owner domain.SubjectID) ([]domain.ExpenseSource, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("list expense sources: %w: nil postgres pool", expenserepo.ErrConnectionUnavailable)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT
			id,
			owner,
			name,
			expense_amount,
			expense_period_kind,
			expense_period_every
		FROM expense_sources
		WHERE owner = $1
		ORDER BY id ASC
	`, string(owner))
	if err != nil {
		return nil, postgres.ClassifyStoreError("list expense sources", err)
	}
	defer rows.Close()

	out := make([]domain.ExpenseSource, 0)
	for rows.Next() {
		src, err := scanExpenseSource(rows)
		if err != nil {
			return nil, postgres.ClassifyStoreError("list expense sources", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.ClassifyStoreError("list expense sources", err)
	}
	return out, nil
}

func (r *Repo) Update(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID, name string, value domain.RecurringMoneyValue) error {
	if r.pool == nil {
		return fmt.Errorf("update expense source: %w: nil postgres pool", expenserepo.ErrConnectionUnavailable)
	}
	kind, every, err := periodcodec.EncodeChecked(value.Period)
	if err != nil {
		return fmt.Errorf("update expense source: %w: %w", expenserepo.ErrQueryFailed, err)
	}

	// RowsAffected() == 0 means the id is missing or owned by someone else; both are no-ops.
	_, err = r.pool.Exec(ctx, `
		UPDATE expense_sources
		SET name = $3,
		    expense_amount = $4,
		    expense_period_kind = $5,
		    expense_period_every = $6,
		    updated_at = now()
		WHERE owner = $1 AND id = $2
	`,
		string(owner),
		int64(id),
		name,
		value.Amount,
		kind,
		every,
	)
	if err != nil {
		return postgres.ClassifyStoreError("update expense source", err)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) error {
	if r.pool == nil {
		return fmt.Errorf("delete expense source: %w: nil postgres pool", expenserepo.ErrConnectionUnavailable)
	}
	_, err := r.pool.Exec(ctx, `
		DELETE FROM expense_sources
		WHERE owner = $1 AND id = $2
	`, string(owner), int64(id))
	if err != nil {
		return postgres.ClassifyStoreError("delete expense source", err)
	}
	return nil
}

func scanExpenseSource(row interface {
	Scan(dest ...any) error
}) (domain.ExpenseSource, error) {
	var (
		id          int64
		owner       string
		name        string
		amount      int64
		periodKind  string
		periodEvery int32
	)
	if err := row.Scan(
		&id,
		&owner,
		&name,
		&amount,
		&periodKind,
		&periodEvery,
	); err != nil {
		return domain.ExpenseSource{}, err
	}
	p, err := periodcodec.Decode(periodKind, int(periodEvery))
	if err != nil {
		return domain.ExpenseSource{}, fmt.Errorf("row %d: %w", id, err)
	}
	return domain.ExpenseSource{
		ID:    domain.ExpenseSourceID(id),
		Owner: domain.SubjectID(owner),
		Name:  name,
		Expense: domain.RecurringMoneyValue{
			Amount: amount,
			Period: p,
		},
	}, nil
}

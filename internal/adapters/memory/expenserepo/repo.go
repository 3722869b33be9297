package expenserepo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Overland-East-Bay/expense-sources-api/internal/adapters/periodcodec"
	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/expenserepo"
)

var _ expenserepo.Repository = (*Repo)(nil)

// row mirrors the persisted relation so the memory backend goes through the same
// period encoding as the SQL backends.
type row struct {
	id          domain.ExpenseSourceID
	owner       domain.SubjectID
	name        string
	amount      int64
	periodKind  string
	periodEvery int
}

type rowKey struct {
	owner domain.SubjectID
	id    domain.ExpenseSourceID
}

// Repo is an in-memory implementation of expenserepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex

	lastID domain.ExpenseSourceID
	rows   map[rowKey]row
}

func NewRepo() *Repo {
	return &Repo{
		rows: make(map[rowKey]row),
	}
}

func (r *Repo) Create(ctx context.Context, owner domain.SubjectID, name string, value domain.RecurringMoneyValue) (domain.ExpenseSourceID, error) {
	_ = ctx
	if owner == "" {
		return 0, expenserepo.ErrInvalidOwner
	}
	kind, every, err := periodcodec.EncodeChecked(value.Period)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", expenserepo.ErrQueryFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	id := r.lastID
	r.rows[rowKey{owner: owner, id: id}] = row{
		id:          id,
		owner:       owner,
		name:        name,
		amount:      value.Amount,
		periodKind:  kind,
		periodEvery: every,
	}
	return id, nil
}

func (r *Repo) Get(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) (domain.ExpenseSource, bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	rw, ok := r.rows[rowKey{owner: owner, id: id}]
	if !ok {
		return domain.ExpenseSource{}, false, nil
	}
	src, err := toDomain(rw)
	if err != nil {
		return domain.ExpenseSource{}, false, err
	}
	return src, true, nil
}

func (r *Repo) List(ctx context.Context, owner domain.SubjectID) ([]domain.ExpenseSource, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ExpenseSource, 0)
	for k, rw := range r.rows {
		if k.owner != owner {
			continue
		}
		src, err := toDomain(rw)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repo) Update(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID, name string, value domain.RecurringMoneyValue) error {
	_ = ctx
	kind, every, err := periodcodec.EncodeChecked(value.Period)
	if err != nil {
		return fmt.Errorf("%w: %w", expenserepo.ErrQueryFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := rowKey{owner: owner, id: id}
	rw, ok := r.rows[k]
	if !ok {
		return nil
	}
	rw.name = name
	rw.amount = value.Amount
	rw.periodKind = kind
	rw.periodEvery = every
	r.rows[k] = rw
	return nil
}

func (r *Repo) Delete(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, rowKey{owner: owner, id: id})
	return nil
}

func toDomain(rw row) (domain.ExpenseSource, error) {
	p, err := periodcodec.Decode(rw.periodKind, rw.periodEvery)
	if err != nil {
		return domain.ExpenseSource{}, fmt.Errorf("%w: row %d: %w", expenserepo.ErrQueryFailed, rw.id, err)
	}
	return domain.ExpenseSource{
		ID:    rw.id,
		Owner: rw.owner,
		Name:  rw.name,
		Expense: domain.RecurringMoneyValue{
			Amount: rw.amount,
			Period: p,
		},
	}, nil
}

// Package expenses is the application layer for owner-scoped expense sources.
package expenses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/clock"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
	clockport "github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/expenserepo"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/idempotency"
)

const (
	DefaultWorkers     = 8
	DefaultCallTimeout = 5 * time.Second

	tracerName = "github.com/Overland-East-Bay/expense-sources-api/internal/app/expenses"
)

type Options struct {
	// Workers bounds concurrent store calls.
	Workers int64
	// CallTimeout bounds each store call, including time spent waiting on the pool.
	CallTimeout time.Duration
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
	// Idempotency backs CreateExpenseSourceOnce. Without it keys are ignored.
	Idempotency idempotency.Store
	// Clock stamps idempotency reservations. Defaults to the system clock.
	Clock clockport.Clock
}

type Service struct {
	repo        expenserepo.Repository
	idem        idempotency.Store
	clock       clockport.Clock
	sem         *semaphore.Weighted
	callTimeout time.Duration
	tracer      trace.Tracer
}

func NewService(repo expenserepo.Repository, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystemClock()
	}
	return &Service{
		repo:        repo,
		idem:        opts.Idempotency,
		clock:       opts.Clock,
		sem:         semaphore.NewWeighted(opts.Workers),
		callTimeout: opts.CallTimeout,
		tracer:      opts.TracerProvider.Tracer(tracerName),
	}
}

func (s *Service) CreateExpenseSource(ctx context.Context, owner domain.SubjectID, in CreateExpenseSourceInput) (domain.ExpenseSource, error) {
	if err := requireOwner(owner); err != nil {
		return domain.ExpenseSource{}, err
	}
	name, err := validate(in.Name, in.Expense)
	if err != nil {
		return domain.ExpenseSource{}, err
	}

	var id domain.ExpenseSourceID
	err = s.run(ctx, "create", func(ctx context.Context) error {
		var err error
		id, err = s.repo.Create(ctx, owner, name, in.Expense)
		return err
	})
	if err != nil {
		return domain.ExpenseSource{}, err
	}
	logging.FromContext(ctx).InfoContext(ctx, "expense source created",
		logging.FieldComponent, "expenses",
		"id", int64(id),
	)
	return domain.ExpenseSource{ID: id, Owner: owner, Name: name, Expense: in.Expense}, nil
}

func (s *Service) GetExpenseSource(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) (domain.ExpenseSource, error) {
	if err := requireOwner(owner); err != nil {
		return domain.ExpenseSource{}, err
	}
	var (
		src domain.ExpenseSource
		ok  bool
	)
	err := s.run(ctx, "get", func(ctx context.Context) error {
		var err error
		src, ok, err = s.repo.Get(ctx, owner, id)
		return err
	})
	if err != nil {
		return domain.ExpenseSource{}, err
	}
	if !ok {
		return domain.ExpenseSource{}, notFoundError(int64(id))
	}
	return src, nil
}

func (s *Service) ListExpenseSources(ctx context.Context, owner domain.SubjectID) ([]domain.ExpenseSource, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	var out []domain.ExpenseSource
	err := s.run(ctx, "list", func(ctx context.Context) error {
		var err error
		out, err = s.repo.List(ctx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.ExpenseSource{}
	}
	return out, nil
}

// UpdateExpenseSource replaces name and value. A missing or foreign id is not an error.
func (s *Service) UpdateExpenseSource(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID, in UpdateExpenseSourceInput) error {
	if err := requireOwner(owner); err != nil {
		return err
	}
	name, err := validate(in.Name, in.Expense)
	if err != nil {
		return err
	}
	return s.run(ctx, "update", func(ctx context.Context) error {
		return s.repo.Update(ctx, owner, id, name, in.Expense)
	})
}

// DeleteExpenseSource is idempotent.
func (s *Service) DeleteExpenseSource(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) error {
	if err := requireOwner(owner); err != nil {
		return err
	}
	return s.run(ctx, "delete", func(ctx context.Context) error {
		return s.repo.Delete(ctx, owner, id)
	})
}

// run executes fn in a worker slot under the per-call timeout. Every store call,
// idempotency bookkeeping included, goes through here. Store calls are not
// retried; a create that timed out may still have committed.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	callCtx, span := s.tracer.Start(callCtx, "expenses."+op, trace.WithAttributes(
		attribute.String("expenses.op", op),
	))
	defer span.End()

	if err := s.sem.Acquire(callCtx, 1); err != nil {
		if callerCanceled(ctx) {
			err = fmt.Errorf("%s expense source: waiting for worker: %w", op, err)
		} else {
			err = fmt.Errorf("%s expense source: waiting for worker: %w: %w", op, expenserepo.ErrConnectionUnavailable, err)
		}
		s.fail(ctx, span, op, err)
		return err
	}
	defer s.sem.Release(1)

	if err := fn(callCtx); err != nil {
		s.fail(ctx, span, op, err)
		return err
	}
	return nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "store call failed")
	logStoreError(ctx, op, err)
}

// callerCanceled reports whether the request itself went away, as opposed to
// the store timing out.
func callerCanceled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func logStoreError(ctx context.Context, op string, err error) {
	level, kind := slog.LevelError, "query_failed"
	switch {
	case callerCanceled(ctx):
		level, kind = slog.LevelInfo, "canceled"
	case errors.Is(err, expenserepo.ErrConnectionUnavailable):
		kind = "connection_unavailable"
	}
	logging.FromContext(ctx).LogAttrs(ctx, level, "expense store call failed",
		slog.String(logging.FieldComponent, "expenses"),
		slog.String("op", op),
		slog.String("kind", kind),
		slog.Any(logging.FieldError, err),
	)
}

func requireOwner(owner domain.SubjectID) error {
	if owner == "" {
		return &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: "missing subject"}
	}
	return nil
}

func validate(rawName string, v domain.RecurringMoneyValue) (string, error) {
	details := map[string]any{}
	name := domain.NormalizeName(rawName)
	switch {
	case name == "":
		details["name"] = "must not be blank"
	case utf8.RuneCountInString(name) > MaxNameLength:
		details["name"] = fmt.Sprintf("must be at most %d characters", MaxNameLength)
	}
	if err := v.Period.Validate(); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPeriodKind):
			details["expense.period.kind"] = "must be Month or Year"
		case errors.Is(err, domain.ErrInvalidPeriodEvery):
			details["expense.period.every"] = fmt.Sprintf("must be between 1 and %d", domain.MaxPeriodEvery)
		}
	}
	if len(details) > 0 {
		return "", validationError(details)
	}
	return name, nil
}

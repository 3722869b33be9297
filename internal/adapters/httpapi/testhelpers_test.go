package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	memexpenserepo "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/memory/expenserepo"
	memidempotency "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/memory/idempotency"
	"github.com/Overland-East-Bay/expense-sources-api/internal/app/expenses"
	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/expenserepo"
)

// spyRepo counts every store call and can inject a failure or a slow create.
type spyRepo struct {
	inner       expenserepo.Repository
	calls       atomic.Int64
	fail        error
	createDelay time.Duration
}

func newSpyRepo() *spyRepo {
	return &spyRepo{inner: memexpenserepo.NewRepo()}
}

func (s *spyRepo) Create(ctx context.Context, owner domain.SubjectID, name string, v domain.RecurringMoneyValue) (domain.ExpenseSourceID, error) {
	s.calls.Add(1)
	if s.fail != nil {
		return 0, s.fail
	}
	time.Sleep(s.createDelay)
	return s.inner.Create(ctx, owner, name, v)
}

func (s *spyRepo) Get(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) (domain.ExpenseSource, bool, error) {
	s.calls.Add(1)
	if s.fail != nil {
		return domain.ExpenseSource{}, false, s.fail
	}
	return s.inner.Get(ctx, owner, id)
}

func (s *spyRepo) List(ctx context.Context, owner domain.SubjectID) ([]domain.ExpenseSource, error) {
	s.calls.Add(1)
	if s.fail != nil {
		return nil, s.fail
	}
	return s.inner.List(ctx, owner)
}

func (s *spyRepo) Update(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID, name string, v domain.RecurringMoneyValue) error {
	s.calls.Add(1)
	if s.fail != nil {
		return s.fail
	}
	return s.inner.Update(ctx, owner, id, name, v)
}

func (s *spyRepo) Delete(ctx context.Context, owner domain.SubjectID, id domain.ExpenseSourceID) error {
	s.calls.Add(1)
	if s.fail != nil {
		return s.fail
	}
	return s.inner.Delete(ctx, owner, id)
}

// newDevRouter serves the API with the X-Debug-Subject auth shim.
func newDevRouter(t *testing.T, repo expenserepo.Repository) http.Handler {
	t.Helper()
	svc := expenses.NewService(repo, expenses.Options{Idempotency: memidempotency.NewStore()})
	api := NewServer(svc)
	return NewRouter(api, RouterOptions{
		AuthMiddleware: NewDevAuthMiddleware(""),
		Logger:         logging.Discard(),
	})
}

func do(t *testing.T, h http.Handler, method, path, subject string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if subject != "" {
		req.Header.Set("X-Debug-Subject", subject)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error response %q: %v", rec.Body.String(), err)
	}
	return er
}

package itest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Overland-East-Bay/expense-sources-api/internal/adapters/httpapi"
	memexpenserepo "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/memory/expenserepo"
	memidempotency "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/memory/idempotency"
	pgexpenserepo "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/postgres/expenserepo"
	pgidempotency "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/postgres/idempotency"
	postgres_testutil "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/postgres/testutil"
	"github.com/Overland-East-Bay/expense-sources-api/internal/adapters/sqlite"
	"github.com/Overland-East-Bay/expense-sources-api/internal/app/expenses"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
	expenserepoport "github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/expenserepo"
	idempotencyport "github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/idempotency"
)

type backend string

const (
	backendMemory   backend = "memory"
	backendSQLite   backend = "sqlite"
	backendPostgres backend = "postgres"
)

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "sqlite":
		return []backend{backendSQLite}
	case "postgres":
		return []backend{backendPostgres}
	case "all":
		return []backend{backendMemory, backendSQLite, backendPostgres}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|sqlite|postgres|all)")
		return nil
	}
}

type testServer struct {
	baseURL string
	client  *http.Client
}

func newStores(t *testing.T, b backend) (expenserepoport.Repository, idempotencyport.Store) {
	t.Helper()

	switch b {
	case backendPostgres:
		pool := postgres_testutil.OpenMigratedPool(t)
		return pgexpenserepo.NewRepo(pool), pgidempotency.NewStore(pool)
	case backendSQLite:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db, err := sqlite.NewDB(ctx, filepath.Join(t.TempDir(), "itest.db"))
		if err != nil {
			t.Fatalf("sqlite.NewDB: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		if err := sqlite.RunMigrations(db.Writer); err != nil {
			t.Fatalf("sqlite.RunMigrations: %v", err)
		}
		return sqlite.NewExpenseRepo(db), sqlite.NewIdempotencyStore(db)
	case backendMemory:
		return memexpenserepo.NewRepo(), memidempotency.NewStore()
	default:
		t.Fatalf("unknown backend: %s", b)
		return nil, nil
	}
}

// newTestServer serves the API over real HTTP. A nil authMW selects the dev
// middleware with no default subject, so requests must send X-Debug-Subject.
func newTestServer(t *testing.T, b backend, authMW func(http.Handler) http.Handler) *testServer {
	t.Helper()

	repo, idem := newStores(t, b)
	svc := expenses.NewService(repo, expenses.Options{Workers: 4, CallTimeout: 5 * time.Second, Idempotency: idem})
	api := httpapi.NewServer(svc)

	if authMW == nil {
		authMW = httpapi.NewDevAuthMiddleware("")
	}
	handler := httpapi.NewRouter(api, httpapi.RouterOptions{
		AuthMiddleware: authMW,
		Logger:         logging.Discard(),
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		baseURL: srv.URL,
		client:  srv.Client(),
	}
}

func (s *testServer) url(path string) string {
	if strings.HasPrefix(path, "/") {
		return s.baseURL + path
	}
	return s.baseURL + "/" + path
}

// doJSON sends body as JSON. headers are key/value pairs; an "Authorization"
// pair replaces the X-Debug-Subject header.
func (s *testServer) doJSON(t *testing.T, method string, path string, subject string, body any, headers ...string) (int, []byte, http.Header) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.url(path), r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if subject != "" {
		req.Header.Set("X-Debug-Subject", subject)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

type errorResponse struct {
	Error struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Details   map[string]any `json:"details"`
		RequestID *string        `json:"requestId"`
	} `json:"error"`
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireStatus(t *testing.T, status int, body []byte, want int) {
	t.Helper()
	if status != want {
		t.Fatalf("status=%d want=%d body=%s", status, want, string(body))
	}
}

func requireErrorCode(t *testing.T, status int, body []byte, wantStatus int, wantCode string) {
	t.Helper()
	requireStatus(t, status, body, wantStatus)
	got := mustUnmarshal[errorResponse](t, body)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, string(body))
	}
}

func requireHeaderPresent(t *testing.T, h http.Header, key string) {
	t.Helper()
	if strings.TrimSpace(h.Get(key)) == "" {
		t.Fatalf("expected header %q to be present", key)
	}
}

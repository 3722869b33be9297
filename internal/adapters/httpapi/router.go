package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
)

type RouterOptions struct {
	// AuthMiddleware gates every route except /healthz. Required.
	AuthMiddleware func(http.Handler) http.Handler
	Logger         *slog.Logger
}

// NewRouter wires middleware and routes onto api.
func NewRouter(api *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	if opts.AuthMiddleware == nil {
		panic("httpapi: RouterOptions.AuthMiddleware is required")
	}
	r.Use(opts.AuthMiddleware)

	// Infra checks only; not behind auth.
	r.Get(healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route(sourcesRoute, func(r chi.Router) {
		r.Post("/", api.CreateExpenseSource)
		r.Get("/", api.ListExpenseSources)
		r.Get("/{id}", api.GetExpenseSource)
		r.Put("/{id}", api.UpdateExpenseSource)
		r.Delete("/{id}", api.DeleteExpenseSource)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed", nil)
	})
	return r
}

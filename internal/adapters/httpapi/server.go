package httpapi

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Overland-East-Bay/expense-sources-api/internal/app/expenses"
	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/idempotency"
)

const (
	sourcesRoute          = "/expense/sources"
	idempotencyKeyHeader  = "Idempotency-Key"
	maxIdempotencyKeySize = 255
)

// Server holds the HTTP handlers for the expense sources API.
type Server struct {
	Expenses *expenses.Service
}

func NewServer(svc *expenses.Service) *Server {
	return &Server{Expenses: svc}
}

func sourceLocation(id domain.ExpenseSourceID) string {
	return sourcesRoute + "/" + strconv.FormatInt(int64(id), 10)
}

func (s *Server) CreateExpenseSource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub, ok := SubjectFromContext(ctx)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "missing subject", nil)
		return
	}
	body, details := decodeExpenseSource(r)
	if details != nil {
		writeError(w, r, http.StatusUnprocessableEntity, codeValidation, "invalid request body", details)
		return
	}
	name, value := body.toDomain()

	idemKey := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if len(idemKey) > maxIdempotencyKeySize {
		writeError(w, r, http.StatusUnprocessableEntity, codeValidation, "invalid Idempotency-Key", map[string]any{
			idempotencyKeyHeader: "must be at most 255 bytes",
		})
		return
	}

	res, err := s.Expenses.CreateExpenseSourceOnce(ctx, sub, idempotency.Key(idemKey), sourcesRoute,
		expenses.CreateExpenseSourceInput{Name: name, Expense: value})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeCreated(w, sourceLocation(res.Source.ID), res.Body)
}

func writeCreated(w http.ResponseWriter, location string, body []byte) {
	w.Header().Set("Location", location)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(append(bytes.Clone(body), '\n'))
}

func (s *Server) ListExpenseSources(w http.ResponseWriter, r *http.Request) {
	sub, ok := SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "missing subject", nil)
		return
	}
	list, err := s.Expenses.ListExpenseSources(r.Context(), sub)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) GetExpenseSource(w http.ResponseWriter, r *http.Request) {
	sub, id, ok := s.subjectAndID(w, r)
	if !ok {
		return
	}
	src, err := s.Expenses.GetExpenseSource(r.Context(), sub, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) UpdateExpenseSource(w http.ResponseWriter, r *http.Request) {
	sub, id, ok := s.subjectAndID(w, r)
	if !ok {
		return
	}
	body, details := decodeExpenseSource(r)
	if details != nil {
		writeError(w, r, http.StatusUnprocessableEntity, codeValidation, "invalid request body", details)
		return
	}
	name, value := body.toDomain()
	if err := s.Expenses.UpdateExpenseSource(r.Context(), sub, id, expenses.UpdateExpenseSourceInput{Name: name, Expense: value}); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) DeleteExpenseSource(w http.ResponseWriter, r *http.Request) {
	sub, id, ok := s.subjectAndID(w, r)
	if !ok {
		return
	}
	if err := s.Expenses.DeleteExpenseSource(r.Context(), sub, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) subjectAndID(w http.ResponseWriter, r *http.Request) (domain.SubjectID, domain.ExpenseSourceID, bool) {
	sub, ok := SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "missing subject", nil)
		return "", 0, false
	}
	id, ok := bindID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, codeNotFound, "route not found", nil)
		return "", 0, false
	}
	return sub, id, true
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"

	"github.com/Overland-East-Bay/expense-sources-api/internal/app/expenses"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
)

const (
	codeUnauthorized     = "UNAUTHORIZED"
	codeValidation       = "VALIDATION_ERROR"
	codeNotFound         = "NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	codeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse is the JSON error envelope returned by every failing endpoint.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string                            `json:"code"`
	Message   string                            `json:"message"`
	Details   nullable.Nullable[map[string]any] `json:"details"`
	RequestId nullable.Nullable[string]         `json:"requestId"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]any) {
	var er ErrorResponse
	er.Error.Code = code
	er.Error.Message = message
	if details != nil {
		er.Error.Details = nullable.NewNullableWithValue(details)
	} else {
		er.Error.Details = nullable.NewNullNullable[map[string]any]()
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.Error.RequestId = nullable.NewNullableWithValue(rid)
	} else {
		er.Error.RequestId = nullable.NewNullNullable[string]()
	}
	writeJSON(w, status, er)
}

// writeServiceError maps application errors to their status and everything else
// to a generic 500. Store details are logged, never returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if ae := (*expenses.Error)(nil); errors.As(err, &ae) {
		writeError(w, r, ae.Status, ae.Code, ae.Message, ae.Details)
		return
	}
	logging.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
		logging.FieldError, err,
	)
	writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

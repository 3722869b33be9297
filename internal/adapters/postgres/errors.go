package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/expenserepo"
)

const (
	UniqueViolationCode     = "23505"
	ForeignKeyViolationCode = "23503"
	CheckViolationCode      = "23514"
)

// AsPgError unwraps err into a server-reported Postgres error.
func AsPgError(err error) (*pgconn.PgError, bool) {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsConnectionError reports whether err happened before a statement reached the server:
// failed connect, pool checkout timing out, or the caller giving up while waiting.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var ce *pgconn.ConnectError
	if errors.As(err, &ce) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return pgconn.Timeout(err)
}

// ClassifyStoreError wraps err with the matching expenserepo sentinel so callers can
// branch with errors.Is without knowing about pgx.
func ClassifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", op, expenserepo.ErrConnectionUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %w", op, expenserepo.ErrQueryFailed, err)
}

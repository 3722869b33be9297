package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/expenserepo"
)

// isConnectionError reports whether err means the database could not be reached
// rather than that a statement failed.
func isConnectionError(err error) bool {
	if errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN:
			return true
		}
	}
	return false
}

func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", op, expenserepo.ErrConnectionUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %w", op, expenserepo.ErrQueryFailed, err)
}

package expenserepo

import "errors"

var (
	// ErrConnectionUnavailable indicates the store could not hand out a connection
	// (pool exhausted past the caller's deadline, pool closed, or connect failure).
	ErrConnectionUnavailable = errors.New("expense store: connection unavailable")

	// ErrQueryFailed indicates the store accepted the call but the statement failed.
	ErrQueryFailed = errors.New("expense store: query failed")

	// ErrInvalidOwner indicates an empty owner was passed to the store.
	ErrInvalidOwner = errors.New("expense store: owner is required")
)

package idempotency

import (
	"context"
	"time"

	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
)

// Key is the caller-provided idempotency key (Idempotency-Key header).
type Key string

// Entry tracks one use of an Idempotency-Key by one owner on one route.
//
// An entry is reserved with the hash of the request body before the create runs
// and completed with the created source once it succeeds. A reserved entry with a
// zero SourceID belongs to an attempt still in flight; a failed attempt releases it.
type Entry struct {
	Owner    domain.SubjectID
	Key      Key
	Route    string
	BodyHash string

	SourceID domain.ExpenseSourceID
	// Response is the body returned for the original create.
	Response []byte

	CreatedAt time.Time
}

// Completed reports whether the original request produced a source to replay.
func (e Entry) Completed() bool { return e.SourceID > 0 }

// Store persists idempotency entries.
type Store interface {
	// Reserve stores e if (Owner, Key, Route) is unused and reports true.
	// Otherwise it returns the existing entry unchanged and false.
	Reserve(ctx context.Context, e Entry) (Entry, bool, error)
	// Complete attaches the created source to a reserved entry.
	Complete(ctx context.Context, owner domain.SubjectID, key Key, route string, id domain.ExpenseSourceID, response []byte) error
	// Release deletes a reservation that was never completed. Completed
	// entries and unknown keys are left alone.
	Release(ctx context.Context, owner domain.SubjectID, key Key, route string) error
	// Purge deletes entries created before cutoff and returns how many went.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/idempotency"
)

var _ idempotency.Store = (*IdempotencyStore)(nil)

// IdempotencyStore keeps idempotency entries next to the expense sources.
// created_at is stored as fixed-width UTC text so string order is time order.
type IdempotencyStore struct {
	db *DB
}

const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

func NewIdempotencyStore(db *DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

func (s *IdempotencyStore) Reserve(ctx context.Context, e idempotency.Entry) (idempotency.Entry, bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.Writer.ExecContext(ctx, `
		INSERT INTO idempotency_keys (owner, idempotency_key, route, body_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner, idempotency_key, route) DO NOTHING`,
		string(e.Owner), string(e.Key), e.Route, e.BodyHash,
		e.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return idempotency.Entry{}, false, classifyStoreError("reserve idempotency key", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return e, true, nil
	}

	existing, err := s.get(ctx, e.Owner, e.Key, e.Route)
	if err != nil {
		return idempotency.Entry{}, false, err
	}
	return existing, false, nil
}

func (s *IdempotencyStore) get(ctx context.Context, owner domain.SubjectID, key idempotency.Key, route string) (idempotency.Entry, error) {
	var (
		e         = idempotency.Entry{Owner: owner, Key: key, Route: route}
		sourceID  sql.NullInt64
		createdAt string
	)
	// The writer handle sees its own insert even before the WAL is checkpointed.
	err := s.db.Writer.QueryRowContext(ctx, `
		SELECT body_hash, source_id, response, created_at
		FROM idempotency_keys
		WHERE owner = ? AND idempotency_key = ? AND route = ?`,
		string(owner), string(key), route,
	).Scan(&e.BodyHash, &sourceID, &e.Response, &createdAt)
	if err != nil {
		return idempotency.Entry{}, classifyStoreError("read idempotency key", err)
	}
	if sourceID.Valid {
		e.SourceID = domain.ExpenseSourceID(sourceID.Int64)
	}
	e.CreatedAt, err = time.Parse(createdAtLayout, createdAt)
	if err != nil {
		return idempotency.Entry{}, fmt.Errorf("parse idempotency created_at %q: %w", createdAt, err)
	}
	return e, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, owner domain.SubjectID, key idempotency.Key, route string, id domain.ExpenseSourceID, response []byte) error {
	_, err := s.db.Writer.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET source_id = ?, response = ?
		WHERE owner = ? AND idempotency_key = ? AND route = ?`,
		int64(id), response, string(owner), string(key), route,
	)
	return classifyStoreError("complete idempotency key", err)
}

func (s *IdempotencyStore) Release(ctx context.Context, owner domain.SubjectID, key idempotency.Key, route string) error {
	_, err := s.db.Writer.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE owner = ? AND idempotency_key = ? AND route = ? AND source_id IS NULL`,
		string(owner), string(key), route,
	)
	return classifyStoreError("release idempotency key", err)
}

func (s *IdempotencyStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Writer.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < ?`,
		cutoff.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return 0, classifyStoreError("purge idempotency keys", err)
	}
	return res.RowsAffected()
}

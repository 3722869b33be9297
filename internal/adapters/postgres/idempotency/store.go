// Package idempotency is the Postgres idempotency.Store.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/postgres"
	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/idempotency"
)

var _ idempotency.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Reserve(ctx context.Context, e idempotency.Entry) (idempotency.Entry, bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (owner, idempotency_key, route, body_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner, idempotency_key, route) DO NOTHING
	`,
		string(e.Owner),
		string(e.Key),
		e.Route,
		e.BodyHash,
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return idempotency.Entry{}, false, postgres.ClassifyStoreError("reserve idempotency key", err)
	}
	if tag.RowsAffected() == 1 {
		return e, true, nil
	}

	existing, err := s.get(ctx, e.Owner, e.Key, e.Route)
	if err != nil {
		return idempotency.Entry{}, false, err
	}
	return existing, false, nil
}

func (s *Store) get(ctx context.Context, owner domain.SubjectID, key idempotency.Key, route string) (idempotency.Entry, error) {
	var (
		e        = idempotency.Entry{Owner: owner, Key: key, Route: route}
		sourceID *int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT body_hash, source_id, response, created_at
		FROM idempotency_keys
		WHERE owner = $1 AND idempotency_key = $2 AND route = $3
	`,
		string(owner),
		string(key),
		route,
	).Scan(&e.BodyHash, &sourceID, &e.Response, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Purged between the insert attempt and this read.
		return idempotency.Entry{}, fmt.Errorf("read idempotency key: %w", err)
	}
	if err != nil {
		return idempotency.Entry{}, postgres.ClassifyStoreError("read idempotency key", err)
	}
	if sourceID != nil {
		e.SourceID = domain.ExpenseSourceID(*sourceID)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *Store) Complete(ctx context.Context, owner domain.SubjectID, key idempotency.Key, route string, id domain.ExpenseSourceID, response []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE idempotency_keys
		SET source_id = $4, response = $5
		WHERE owner = $1 AND idempotency_key = $2 AND route = $3
	`,
		string(owner),
		string(key),
		route,
		int64(id),
		response,
	)
	return postgres.ClassifyStoreError("complete idempotency key", err)
}

func (s *Store) Release(ctx context.Context, owner domain.SubjectID, key idempotency.Key, route string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE owner = $1 AND idempotency_key = $2 AND route = $3 AND source_id IS NULL
	`,
		string(owner),
		string(key),
		route,
	)
	return postgres.ClassifyStoreError("release idempotency key", err)
}

func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, postgres.ClassifyStoreError("purge idempotency keys", err)
	}
	return tag.RowsAffected(), nil
}

package idempotency

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/idempotency"
)

var _ idempotency.Store = (*Store)(nil)

type entryKey struct {
	owner domain.SubjectID
	key   idempotency.Key
	route string
}

// Store keeps idempotency entries in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	entries map[entryKey]idempotency.Entry
}

func NewStore() *Store {
	return &Store{
		entries: make(map[entryKey]idempotency.Entry),
	}
}

func (s *Store) Reserve(_ context.Context, e idempotency.Entry) (idempotency.Entry, bool, error) {
	k := entryKey{owner: e.Owner, key: e.Key, route: e.Route}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[k]; ok {
		existing.Response = bytes.Clone(existing.Response)
		return existing, false, nil
	}
	e.Response = bytes.Clone(e.Response)
	s.entries[k] = e
	return e, true, nil
}

func (s *Store) Complete(_ context.Context, owner domain.SubjectID, key idempotency.Key, route string, id domain.ExpenseSourceID, response []byte) error {
	k := entryKey{owner: owner, key: key, route: route}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok {
		return nil
	}
	e.SourceID = id
	e.Response = bytes.Clone(response)
	s.entries[k] = e
	return nil
}

func (s *Store) Release(_ context.Context, owner domain.SubjectID, key idempotency.Key, route string) error {
	k := entryKey{owner: owner, key: key, route: route}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[k]; ok && !e.Completed() {
		delete(s.entries, k)
	}
	return nil
}

func (s *Store) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

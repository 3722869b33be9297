package contracttest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	expenserepoport "github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/expenserepo"
	idempotencyport "github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/idempotency"
)

type CleanupFunc = func()

type ExpenseRepoFactory func(t *testing.T) (expenserepoport.Repository, CleanupFunc)
type IdemStoreFactory func(t *testing.T) (idempotencyport.Store, CleanupFunc)

// uniqueSubject keeps runs against a shared database from seeing each other's rows.
func uniqueSubject(prefix string) domain.SubjectID {
	return domain.SubjectID(prefix + "|" + uuid.NewString())
}

// RunIdempotencyStore checks reservation, completion, scoping and purge
// behavior shared by every idempotency.Store implementation.
func RunIdempotencyStore(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	entry := idempotencyport.Entry{
		Owner:     uniqueSubject("sub"),
		Key:       idempotencyport.Key("k-" + uuid.NewString()),
		Route:     "/expense/sources",
		BodyHash:  "hash-abc",
		CreatedAt: time.Unix(1000, 0).UTC(),
	}

	got, created, err := store.Reserve(ctx, entry)
	if err != nil || !created {
		t.Fatalf("first Reserve: created=%v err=%v", created, err)
	}
	if got.BodyHash != entry.BodyHash || got.Completed() {
		t.Fatalf("unexpected reserved entry: %+v", got)
	}

	// A second reservation returns the first one untouched.
	other := entry
	other.BodyHash = "hash-def"
	got, created, err = store.Reserve(ctx, other)
	if err != nil || created {
		t.Fatalf("second Reserve: created=%v err=%v", created, err)
	}
	if got.BodyHash != "hash-abc" || got.Completed() {
		t.Fatalf("second Reserve changed entry: %+v", got)
	}

	if err := store.Complete(ctx, entry.Owner, entry.Key, entry.Route, 42, []byte(`{"id":42}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, created, err = store.Reserve(ctx, entry)
	if err != nil || created {
		t.Fatalf("Reserve after Complete: created=%v err=%v", created, err)
	}
	if !got.Completed() || got.SourceID != 42 || string(got.Response) != `{"id":42}` {
		t.Fatalf("completed entry not returned: %+v", got)
	}

	// Release keeps a completed entry.
	if err := store.Release(ctx, entry.Owner, entry.Key, entry.Route); err != nil {
		t.Fatalf("Release completed: %v", err)
	}
	if got, created, err := store.Reserve(ctx, entry); err != nil || created || !got.Completed() {
		t.Fatalf("Release dropped completed entry: created=%v err=%v entry=%+v", created, err, got)
	}

	// Release frees an abandoned reservation for the next attempt.
	abandoned := entry
	abandoned.Key = idempotencyport.Key("abandoned-" + uuid.NewString())
	if _, created, err := store.Reserve(ctx, abandoned); err != nil || !created {
		t.Fatalf("Reserve abandoned: created=%v err=%v", created, err)
	}
	if err := store.Release(ctx, abandoned.Owner, abandoned.Key, abandoned.Route); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, created, err := store.Reserve(ctx, abandoned); err != nil || !created {
		t.Fatalf("Reserve after Release: created=%v err=%v", created, err)
	}
	if err := store.Release(ctx, abandoned.Owner, "missing-"+abandoned.Key, abandoned.Route); err != nil {
		t.Fatalf("Release missing: %v", err)
	}

	// Concurrent reservations of one key have exactly one winner.
	racing := entry
	racing.Key = idempotencyport.Key("race-" + uuid.NewString())
	var (
		wg   sync.WaitGroup
		wins atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.Reserve(ctx, racing)
			if err != nil {
				t.Errorf("concurrent Reserve: %v", err)
				return
			}
			if created {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("concurrent Reserve winners=%d want 1", wins.Load())
	}

	// Completing an unknown key does nothing.
	if err := store.Complete(ctx, entry.Owner, "missing-"+entry.Key, entry.Route, 7, nil); err != nil {
		t.Fatalf("Complete missing: %v", err)
	}

	// Entries are scoped by owner and route.
	foreign := entry
	foreign.Owner = uniqueSubject("other")
	if _, created, err := store.Reserve(ctx, foreign); err != nil || !created {
		t.Fatalf("key shared across owners: created=%v err=%v", created, err)
	}
	otherRoute := entry
	otherRoute.Route = "/expense/other"
	if _, created, err := store.Reserve(ctx, otherRoute); err != nil || !created {
		t.Fatalf("key shared across routes: created=%v err=%v", created, err)
	}

	// Purge removes entries older than the cutoff only.
	fresh := entry
	fresh.Key = idempotencyport.Key("fresh-" + uuid.NewString())
	fresh.CreatedAt = time.Unix(5000, 0).UTC()
	if _, _, err := store.Reserve(ctx, fresh); err != nil {
		t.Fatalf("Reserve fresh: %v", err)
	}
	n, err := store.Purge(ctx, time.Unix(2000, 0).UTC())
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n < 5 {
		t.Fatalf("Purge removed %d entries, want at least 5", n)
	}
	if _, created, err := store.Reserve(ctx, entry); err != nil || !created {
		t.Fatalf("purged key still reserved: created=%v err=%v", created, err)
	}
	if got, created, err := store.Reserve(ctx, fresh); err != nil || created || got.CreatedAt.Unix() != 5000 {
		t.Fatalf("fresh entry purged: created=%v err=%v entry=%+v", created, err, got)
	}
}

// RunExpenseRepo exercises the owner-scoping, id and round-trip guarantees every
// expenserepo.Repository implementation must provide.
func RunExpenseRepo(t *testing.T, newRepo ExpenseRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	alice := uniqueSubject("alice")
	bob := uniqueSubject("bob")
	rent := domain.RecurringMoneyValue{Amount: 120000, Period: domain.Period{Kind: domain.PeriodMonth, Every: 1}}

	// Create + Get round trip.
	id, err := repo.Create(ctx, alice, "Rent", rent)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}
	got, ok, err := repo.Get(ctx, alice, id)
	if err != nil || !ok {
		t.Fatalf("Get own: ok=%v err=%v", ok, err)
	}
	if got.ID != id || got.Owner != alice || got.Name != "Rent" || got.Expense != rent {
		t.Fatalf("unexpected row: %#v", got)
	}

	// Ids strictly increase.
	prev := id
	periods := []domain.Period{
		{Kind: domain.PeriodYear, Every: 1},
		{Kind: domain.PeriodMonth, Every: 3},
		{Kind: domain.PeriodYear, Every: 5},
		{Kind: domain.PeriodMonth, Every: domain.MaxPeriodEvery},
	}
	ids := []domain.ExpenseSourceID{id}
	for i, p := range periods {
		v := domain.RecurringMoneyValue{Amount: int64(-1000 * (i + 1)), Period: p}
		next, err := repo.Create(ctx, alice, "Source", v)
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		if next <= prev {
			t.Fatalf("ids not increasing: %d after %d", next, prev)
		}
		prev = next
		ids = append(ids, next)

		back, ok, err := repo.Get(ctx, alice, next)
		if err != nil || !ok || back.Expense != v {
			t.Fatalf("round trip %d: ok=%v err=%v got=%#v want=%#v", i, ok, err, back.Expense, v)
		}
	}

	// List returns only the owner's rows, in id order.
	list, err := repo.List(ctx, alice)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != len(ids) {
		t.Fatalf("List len=%d want %d", len(list), len(ids))
	}
	for i := range list {
		if list[i].ID != ids[i] || list[i].Owner != alice {
			t.Fatalf("List[%d]=%#v want id %d", i, list[i], ids[i])
		}
	}

	// Tenant isolation on reads.
	if _, ok, err := repo.Get(ctx, bob, id); err != nil || ok {
		t.Fatalf("Get foreign: ok=%v err=%v", ok, err)
	}
	bobList, err := repo.List(ctx, bob)
	if err != nil {
		t.Fatalf("List bob: %v", err)
	}
	if len(bobList) != 0 {
		t.Fatalf("bob sees rows: %#v", bobList)
	}

	// Foreign update is a silent no-op.
	hijack := domain.RecurringMoneyValue{Amount: 1, Period: domain.Period{Kind: domain.PeriodYear, Every: 9}}
	if err := repo.Update(ctx, bob, id, "Hijacked", hijack); err != nil {
		t.Fatalf("Update foreign: %v", err)
	}
	got, ok, err = repo.Get(ctx, alice, id)
	if err != nil || !ok || got.Name != "Rent" || got.Expense != rent {
		t.Fatalf("foreign update mutated row: ok=%v err=%v row=%#v", ok, err, got)
	}

	// Update of a missing id is a silent no-op.
	if err := repo.Update(ctx, alice, prev+1000, "Ghost", rent); err != nil {
		t.Fatalf("Update missing: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, alice, prev+1000); ok {
		t.Fatalf("update of missing id created a row")
	}

	// Owner update.
	newVal := domain.RecurringMoneyValue{Amount: 125000, Period: domain.Period{Kind: domain.PeriodMonth, Every: 2}}
	if err := repo.Update(ctx, alice, id, "Rent (new lease)", newVal); err != nil {
		t.Fatalf("Update own: %v", err)
	}
	got, ok, err = repo.Get(ctx, alice, id)
	if err != nil || !ok || got.Name != "Rent (new lease)" || got.Expense != newVal {
		t.Fatalf("Update own not applied: ok=%v err=%v row=%#v", ok, err, got)
	}

	// Foreign delete is a no-op.
	if err := repo.Delete(ctx, bob, id); err != nil {
		t.Fatalf("Delete foreign: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, alice, id); !ok {
		t.Fatalf("foreign delete removed row")
	}

	// Delete is idempotent.
	if err := repo.Delete(ctx, alice, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, alice, id); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
	if _, ok, err := repo.Get(ctx, alice, id); err != nil || ok {
		t.Fatalf("Get after delete: ok=%v err=%v", ok, err)
	}
	list, err = repo.List(ctx, alice)
	if err != nil || len(list) != len(ids)-1 {
		t.Fatalf("List after delete: len=%d err=%v", len(list), err)
	}

	// Ids are never reused after a delete.
	after, err := repo.Create(ctx, alice, "After delete", rent)
	if err != nil {
		t.Fatalf("Create after delete: %v", err)
	}
	if after <= prev {
		t.Fatalf("id reused: %d <= %d", after, prev)
	}

	// Empty owner is rejected.
	if _, err := repo.Create(ctx, "", "Nobody", rent); !errors.Is(err, expenserepoport.ErrInvalidOwner) {
		t.Fatalf("Create empty owner: err=%v want ErrInvalidOwner", err)
	}
}

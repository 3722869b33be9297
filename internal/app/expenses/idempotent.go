package expenses

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/idempotency"
)

// CreateExpenseSourceOnce creates a source at most once per (owner, key, scope).
//
// An empty key, or a service without an idempotency store, always creates.
// Repeating a finished request replays its body. Reusing a key with a different
// body, or while the first request is still running, is a 409.
func (s *Service) CreateExpenseSourceOnce(ctx context.Context, owner domain.SubjectID, key idempotency.Key, scope string, in CreateExpenseSourceInput) (CreateResult, error) {
	if s.idem == nil || key == "" {
		src, err := s.CreateExpenseSource(ctx, owner, in)
		if err != nil {
			return CreateResult{}, err
		}
		body, err := json.Marshal(src)
		if err != nil {
			return CreateResult{}, err
		}
		return CreateResult{Source: src, Body: body}, nil
	}

	if err := requireOwner(owner); err != nil {
		return CreateResult{}, err
	}
	name, err := validate(in.Name, in.Expense)
	if err != nil {
		return CreateResult{}, err
	}
	bodyHash, err := hashCreateInput(name, in.Expense)
	if err != nil {
		return CreateResult{}, err
	}

	var (
		entry    idempotency.Entry
		reserved bool
	)
	err = s.run(ctx, "idempotency.reserve", func(ctx context.Context) error {
		var err error
		entry, reserved, err = s.idem.Reserve(ctx, idempotency.Entry{
			Owner:     owner,
			Key:       key,
			Route:     scope,
			BodyHash:  bodyHash,
			CreatedAt: s.clock.Now(),
		})
		return err
	})
	if err != nil {
		return CreateResult{}, err
	}
	if !reserved {
		switch {
		case entry.BodyHash != bodyHash:
			return CreateResult{}, keyReuseError()
		case !entry.Completed():
			return CreateResult{}, inProgressError()
		}
		return CreateResult{
			Source:   domain.ExpenseSource{ID: entry.SourceID, Owner: owner, Name: name, Expense: in.Expense},
			Body:     entry.Response,
			Replayed: true,
		}, nil
	}

	src, err := s.CreateExpenseSource(ctx, owner, CreateExpenseSourceInput{Name: name, Expense: in.Expense})
	if err != nil {
		s.releaseKey(ctx, owner, key, scope)
		return CreateResult{}, err
	}
	body, err := json.Marshal(src)
	if err != nil {
		return CreateResult{}, err
	}

	err = s.run(ctx, "idempotency.complete", func(ctx context.Context) error {
		return s.idem.Complete(ctx, owner, key, scope, src.ID, body)
	})
	if err != nil {
		// The source exists; retries with this key stay in progress until purged.
		logging.FromContext(ctx).WarnContext(ctx, "idempotency key not completed",
			logging.FieldComponent, "expenses",
			"id", int64(src.ID),
		)
	}
	return CreateResult{Source: src, Body: body}, nil
}

// releaseKey frees the reservation of a failed create so the client can retry.
// It runs even when the request context is already canceled.
func (s *Service) releaseKey(ctx context.Context, owner domain.SubjectID, key idempotency.Key, scope string) {
	ctx = context.WithoutCancel(ctx)
	// run logs the failure.
	_ = s.run(ctx, "idempotency.release", func(ctx context.Context) error {
		return s.idem.Release(ctx, owner, key, scope)
	})
}

func hashCreateInput(name string, v domain.RecurringMoneyValue) (string, error) {
	canon := struct {
		Name    string                     `json:"name"`
		Expense domain.RecurringMoneyValue `json:"expense"`
	}{Name: name, Expense: v}
	raw, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

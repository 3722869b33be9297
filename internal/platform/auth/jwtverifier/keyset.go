package jwtverifier

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/auth/jwk"
)

const maxJWKSBytes = 1 << 20

// cachedKey is one kid from the last fetched key set. Entries that cannot be used
// for RS256 keep the reason in err so lookups report it instead of "not found".
type cachedKey struct {
	pub *rsa.PublicKey
	err error
}

func (k cachedKey) key() (*rsa.PublicKey, error) {
	if k.err != nil {
		return nil, k.err
	}
	return k.pub, nil
}

// FetchSigningKey returns the RSA public key published under kid.
//
// The key set is cached. It is refetched when older than the refresh interval,
// or when kid is unknown and the last fetch is older than the min refresh interval.
// Concurrent refetches are collapsed into one request. If a refetch fails while a
// key for kid is still cached, the cached key is returned.
func (v *Verifier) FetchSigningKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := v.clock.Now()

	v.mu.RLock()
	entry, known := v.keys[kid]
	gen := v.generation
	fetched := !v.lastRefresh.IsZero()
	age := now.Sub(v.lastRefresh)
	v.mu.RUnlock()

	fresh := fetched && (v.cfg.JWKSRefreshInterval <= 0 || age < v.cfg.JWKSRefreshInterval)
	if known && fresh {
		return entry.key()
	}
	unknownKidRefreshAllowed := !fetched || v.cfg.JWKSMinRefreshInterval <= 0 || age >= v.cfg.JWKSMinRefreshInterval
	if !known && fresh && !unknownKidRefreshAllowed {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}

	if err := v.refresh(ctx, gen); err != nil {
		if known {
			v.logger.WarnContext(ctx, "jwks refresh failed, using cached key",
				"kid", kid,
				"error", err,
			)
			return entry.key()
		}
		return nil, err
	}

	v.mu.RLock()
	entry, known = v.keys[kid]
	v.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}
	return entry.key()
}

// refresh refetches the key set unless another caller already replaced the
// generation observed as seen.
func (v *Verifier) refresh(ctx context.Context, seen uint64) error {
	ch := v.group.DoChan("jwks", func() (any, error) {
		v.mu.RLock()
		stale := v.generation == seen
		v.mu.RUnlock()
		if !stale {
			return nil, nil
		}

		// The fetch outlives the first caller's cancellation; waiters share it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.fetchBudget())
		defer cancel()

		fetchCtx, span := v.tracer.Start(fetchCtx, "jwks.refresh", trace.WithAttributes(
			attribute.String("jwks.url", v.cfg.JWKSURL),
		))
		defer span.End()

		keys, err := v.fetchWithRetry(fetchCtx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "jwks fetch failed")
			return nil, err
		}
		span.SetAttributes(attribute.Int("jwks.keys", len(keys)))

		v.mu.Lock()
		v.keys = keys
		v.lastRefresh = v.clock.Now()
		v.generation++
		v.mu.Unlock()

		v.logger.DebugContext(ctx, "jwks refreshed", "keys", len(keys))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrKeyFetchFailed, ctx.Err())
	}
}

func (v *Verifier) fetchBudget() time.Duration {
	return v.cfg.HTTPTimeout*time.Duration(v.cfg.FetchRetries+1) + v.retryPolicy.MaxInterval*time.Duration(v.cfg.FetchRetries)
}

func (v *Verifier) fetchWithRetry(ctx context.Context) (map[string]cachedKey, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = v.retryPolicy.InitialInterval
	policy.MaxInterval = v.retryPolicy.MaxInterval
	policy.MaxElapsedTime = 0

	var keys map[string]cachedKey
	attempt := 0
	op := func() error {
		attempt++
		var err error
		keys, err = v.fetchOnce(ctx)
		if err != nil {
			v.logger.WarnContext(ctx, "jwks fetch attempt failed",
				"attempt", attempt,
				"error", err,
			)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, v.cfg.FetchRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyFetchFailed, err)
	}
	return keys, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("jwks endpoint returned status %d", e.code) }

func (v *Verifier) fetchOnce(ctx context.Context) (map[string]cachedKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		serr := &statusError{code: resp.StatusCode}
		// 4xx other than 429 will not fix itself on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(serr)
		}
		return nil, serr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, err
	}
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return buildKeyCache(set), nil
}

func buildKeyCache(set jwk.Set) map[string]cachedKey {
	out := make(map[string]cachedKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kid == "" {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if k.Kty != "RSA" {
			out[k.Kid] = cachedKey{err: fmt.Errorf("%w: kid %q has kty %q", ErrUnsupportedKeyAlgorithm, k.Kid, k.Kty)}
			continue
		}
		if k.Alg != "" && k.Alg != "RS256" {
			out[k.Kid] = cachedKey{err: fmt.Errorf("%w: kid %q has alg %q", ErrUnsupportedKeyAlgorithm, k.Kid, k.Alg)}
			continue
		}
		pub, err := k.RSAPublicKey()
		if err != nil {
			if errors.Is(err, jwk.ErrBadParameter) {
				err = fmt.Errorf("%w: kid %q: %w", ErrInvalidKeyParameters, k.Kid, err)
			}
			out[k.Kid] = cachedKey{err: err}
			continue
		}
		out[k.Kid] = cachedKey{pub: pub}
	}
	return out
}

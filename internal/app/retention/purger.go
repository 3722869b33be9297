// Package retention expires idempotency keys once clients can no longer be
// retrying the request that used them.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/idempotency"
)

type Purger struct {
	store    idempotency.Store
	clock    clock.Clock
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
}

func NewPurger(store idempotency.Store, clk clock.Clock, ttl, interval time.Duration, logger *slog.Logger) *Purger {
	return &Purger{
		store:    store,
		clock:    clk,
		ttl:      ttl,
		interval: interval,
		logger:   logging.Component(logger, "retention"),
	}
}

// PurgeOnce deletes entries older than the TTL.
func (p *Purger) PurgeOnce(ctx context.Context) (int64, error) {
	return p.store.Purge(ctx, p.clock.Now().Add(-p.ttl))
}

// Run purges every interval until ctx is done. Failures are logged and retried
// on the next tick.
func (p *Purger) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.PurgeOnce(ctx)
			if err != nil {
				p.logger.WarnContext(ctx, "purge idempotency keys", logging.FieldError, err)
				continue
			}
			if n > 0 {
				p.logger.InfoContext(ctx, "purged idempotency keys", "count", n)
			}
		}
	}
}

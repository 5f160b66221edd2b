package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"
)

// window is the length of one counting window
const window = time.Minute

type bucket struct {
	perMinute int
	sem       *semaphore.Weighted
}

// Limiter bounds calls to external capabilities across every worker process.
// The per-minute budget is counted in Postgres; concurrency within the process
// is bounded by a semaphore. A nil *Limiter never blocks.
type Limiter struct {
	db      *sqlx.DB
	logger  *slog.Logger
	buckets map[string]*bucket
	now     func() time.Time
}

// New creates a limiter with one bucket per configured capability
func New(db *sqlx.DB, limits map[string]config.RateLimitConfig, logger *slog.Logger) *Limiter {
	buckets := make(map[string]*bucket, len(limits))
	for name, cfg := range limits {
		b := &bucket{perMinute: cfg.PerMinute}
		if cfg.Concurrency > 0 {
			b.sem = semaphore.NewWeighted(int64(cfg.Concurrency))
		}
		buckets[name] = b
	}

	return &Limiter{
		db:      db,
		logger:  logger,
		buckets: buckets,
		now:     time.Now,
	}
}

// Acquire blocks until a call to name is allowed. The returned release must be
// called when the call finishes.
func (l *Limiter) Acquire(ctx context.Context, name string) (func(), error) {
	noop := func() {}
	if l == nil {
		return noop, nil
	}

	b, ok := l.buckets[name]
	if !ok {
		return noop, nil
	}

	release := noop
	if b.sem != nil {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", name, err)
		}
		release = func() { b.sem.Release(1) }
	}

	if b.perMinute <= 0 {
		return release, nil
	}

	for {
		start := l.now().UTC().Truncate(window)
		count, err := l.reserve(ctx, name, start)
		if err != nil {
			release()
			return nil, err
		}
		if count <= b.perMinute {
			return release, nil
		}

		wait := start.Add(window).Sub(l.now())
		l.logger.Debug("Rate limit reached, waiting for next window",
			slog.String("bucket", name),
			slog.Int("count", count),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			release()
			return nil, fmt.Errorf("rate limit %s: %w", name, ctx.Err())
		case <-timer.C:
		}
	}
}

// reserve counts one call against the window and returns the new total
func (l *Limiter) reserve(ctx context.Context, name string, start time.Time) (int, error) {
	query := `
		INSERT INTO rate_windows (bucket, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (bucket, window_start)
		DO UPDATE SET count = rate_windows.count + 1
		RETURNING count
	`

	var count int
	if err := l.db.GetContext(ctx, &count, query, name, start); err != nil {
		return 0, fmt.Errorf("failed to reserve rate window: %w", err)
	}
	return count, nil
}

// Prune deletes windows that started before cutoff
func (l *Limiter) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if l == nil {
		return 0, nil
	}

	result, err := l.db.ExecContext(ctx, "DELETE FROM rate_windows WHERE window_start < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate windows: %w", err)
	}
	return result.RowsAffected()
}

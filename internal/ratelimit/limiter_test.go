package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLimiter(t *testing.T, limits map[string]config.RateLimitConfig) (*Limiter, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l := New(sqlx.NewDb(db, "postgres"), limits, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return l, mock
}

func TestLimiter_NilNeverBlocks(t *testing.T) {
	var l *Limiter

	release, err := l.Acquire(context.Background(), "narrative")
	require.NoError(t, err)
	release()
}

func TestLimiter_UnknownBucketIsUnlimited(t *testing.T) {
	l, mock := newMockLimiter(t, map[string]config.RateLimitConfig{})

	release, err := l.Acquire(context.Background(), "speech")
	require.NoError(t, err)
	release()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLimiter_AllowsWithinWindow(t *testing.T) {
	l, mock := newMockLimiter(t, map[string]config.RateLimitConfig{
		"narrative": {PerMinute: 5},
	})
	now := time.Date(2026, 3, 14, 6, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return now }

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rate_windows")).
		WithArgs("narrative", now.Truncate(time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	release, err := l.Acquire(context.Background(), "narrative")
	require.NoError(t, err)
	release()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLimiter_WaitsForNextWindow(t *testing.T) {
	l, mock := newMockLimiter(t, map[string]config.RateLimitConfig{
		"image": {PerMinute: 1},
	})

	// The first window is already full and ends 5ms after "now"
	first := time.Date(2026, 3, 14, 6, 0, 59, 995_000_000, time.UTC)
	next := first.Add(10 * time.Millisecond)
	clock := []time.Time{first, first, next}
	reads := 0
	l.now = func() time.Time {
		tm := clock[min(reads, len(clock)-1)]
		reads++
		return tm
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rate_windows")).
		WithArgs("image", first.Truncate(time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rate_windows")).
		WithArgs("image", next.Truncate(time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	release, err := l.Acquire(context.Background(), "image")
	require.NoError(t, err)
	release()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLimiter_ConcurrencyBound(t *testing.T) {
	l, _ := newMockLimiter(t, map[string]config.RateLimitConfig{
		"speech": {Concurrency: 1},
	})

	release, err := l.Acquire(context.Background(), "speech")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, "speech")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	release2, err := l.Acquire(context.Background(), "speech")
	require.NoError(t, err)
	release2()
}

func TestLimiter_Prune(t *testing.T) {
	l, mock := newMockLimiter(t, nil)
	cutoff := time.Now().Add(-time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rate_windows")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := l.Prune(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

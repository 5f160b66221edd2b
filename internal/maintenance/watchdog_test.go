package maintenance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/pipelinetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)

const (
	jobA = "a1111111-1111-4111-8111-111111111111"
	jobB = "b2222222-2222-4222-8222-222222222222"
	jobC = "c3333333-3333-4333-8333-333333333333"
	jobD = "d4444444-4444-4444-8444-444444444444"
)

func newTestWatchdog(store *pipelinetest.Store, clock *pipelinetest.Clock, maxDwell map[string]time.Duration) *Watchdog {
	w := NewWatchdog(store, config.WatchdogConfig{
		DefaultMaxDwell: time.Hour,
		MaxDwell:        maxDwell,
		BatchSize:       10,
	}, pipelinetest.Logger())
	w.now = clock.Now
	return w
}

func TestWatchdog_FailsJobHeldAtScriptReady(t *testing.T) {
	clock := pipelinetest.NewClock(testNow)
	store := pipelinetest.NewStore(clock)
	store.Seed(domain.Job{ID: jobA, Status: domain.StatusScriptReady})

	w := newTestWatchdog(store, clock, nil)

	failed, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	clock.Advance(time.Hour + time.Minute)

	failed, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	job, _ := store.Job(jobA)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, "stuck in script_ready for more than 1h0m0s", domain.StringValue(job.ErrorMessage))
	assert.Equal(t, []domain.Status{domain.StatusScriptReady, domain.StatusFailed}, store.History(jobA))
}

func TestWatchdog_EveryNonTerminalStatusIsSwept(t *testing.T) {
	for _, status := range domain.NonTerminalStatuses() {
		t.Run(string(status), func(t *testing.T) {
			clock := pipelinetest.NewClock(testNow)
			store := pipelinetest.NewStore(clock)
			store.Seed(domain.Job{ID: jobA, Status: status, UpdatedAt: testNow.Add(-2 * time.Hour)})

			failed, err := newTestWatchdog(store, clock, nil).Sweep(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, failed)

			job, _ := store.Job(jobA)
			assert.Equal(t, domain.StatusFailed, job.Status)
		})
	}
}

func TestWatchdog_TerminalJobsAreIgnored(t *testing.T) {
	clock := pipelinetest.NewClock(testNow)
	store := pipelinetest.NewStore(clock)
	old := testNow.Add(-48 * time.Hour)
	store.Seed(domain.Job{ID: jobA, Status: domain.StatusCompleted, UpdatedAt: old})
	store.Seed(domain.Job{ID: jobB, Status: domain.StatusFailed, UpdatedAt: old})

	failed, err := newTestWatchdog(store, clock, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, failed)
	assert.Empty(t, store.History(jobA))
	assert.Empty(t, store.History(jobB))
}

func TestWatchdog_PerStatusDwell(t *testing.T) {
	clock := pipelinetest.NewClock(testNow)
	store := pipelinetest.NewStore(clock)
	quarterAgo := testNow.Add(-15 * time.Minute)
	store.Seed(domain.Job{ID: jobA, Status: domain.StatusProcessing, UpdatedAt: quarterAgo})
	store.Seed(domain.Job{ID: jobB, Status: domain.StatusContentGathered, UpdatedAt: quarterAgo})

	w := newTestWatchdog(store, clock, map[string]time.Duration{"processing": 10 * time.Minute})

	failed, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	processing, _ := store.Job(jobA)
	assert.Equal(t, domain.StatusFailed, processing.Status)
	gathered, _ := store.Job(jobB)
	assert.Equal(t, domain.StatusContentGathered, gathered.Status)
}

func TestWatchdog_LostRaceIsIgnored(t *testing.T) {
	clock := pipelinetest.NewClock(testNow)
	store := pipelinetest.NewStore(clock)
	store.Seed(domain.Job{ID: jobA, Status: domain.StatusScriptReady, UpdatedAt: testNow.Add(-2 * time.Hour)})
	store.FailOn("FailStuck", fmt.Errorf("%w: %s expected script_ready", domain.ErrTransitionConflict, jobA))

	failed, err := newTestWatchdog(store, clock, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	job, _ := store.Job(jobA)
	assert.Equal(t, domain.StatusScriptReady, job.Status)
}

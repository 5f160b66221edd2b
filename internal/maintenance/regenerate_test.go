package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/briefcast/internal/admission"
	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/pipelinetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type regenerateFixture struct {
	regenerator *Regenerator
	store       *pipelinetest.Store
	publisher   *pipelinetest.Publisher
}

func newRegenerateFixture(quota domain.Quota) *regenerateFixture {
	clock := pipelinetest.NewClock(testNow)
	store := pipelinetest.NewStore(clock)
	publisher := &pipelinetest.Publisher{}

	scheduler := admission.NewScheduler(admission.Config{
		Store:     store,
		Publisher: publisher,
		Logger:    pipelinetest.Logger(),
	})
	checker := admission.QuotaCheckerFunc(func(context.Context, string, time.Time) (domain.Quota, error) {
		return quota, nil
	})

	r := NewRegenerator(store, scheduler, checker)
	r.now = clock.Now
	r.newID = func() string { return jobB }
	return &regenerateFixture{regenerator: r, store: store, publisher: publisher}
}

func seedFailed(store *pipelinetest.Store, id string, status domain.Status) {
	store.Seed(domain.Job{
		ID:           id,
		SubjectID:    "subject-1",
		Type:         domain.JobTypeDaily,
		Status:       status,
		Title:        "Daily Briefing: March 13, 2026",
		WindowStart:  testNow.Add(-48 * time.Hour),
		WindowEnd:    testNow.Add(-24 * time.Hour),
		ErrorMessage: strPtr("speech synthesis failed"),
		CreatedAt:    testNow.Add(-24 * time.Hour),
	})
}

func TestRegenerator_FailedJobGetsANewJob(t *testing.T) {
	f := newRegenerateFixture(domain.Quota{Allowed: true, CurrentCount: 1, Limit: 3})
	seedFailed(f.store, jobA, domain.StatusFailed)

	job, err := f.regenerator.Regenerate(context.Background(), jobA)
	require.NoError(t, err)
	assert.Equal(t, jobB, job.ID)

	stored, ok := f.store.Job(jobB)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, "subject-1", stored.SubjectID)
	assert.Equal(t, testNow.Add(-48*time.Hour), stored.WindowStart)
	assert.Equal(t, "Daily Briefing: March 13, 2026", stored.Title)

	messages := f.publisher.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, jobB, messages[0].JobID)

	original, _ := f.store.Job(jobA)
	assert.Equal(t, domain.StatusFailed, original.Status)
	assert.Empty(t, f.store.History(jobA))
}

func TestRegenerator_OnlyFailedJobs(t *testing.T) {
	f := newRegenerateFixture(domain.Quota{Allowed: true})
	seedFailed(f.store, jobA, domain.StatusScriptReady)

	_, err := f.regenerator.Regenerate(context.Background(), jobA)
	assert.ErrorIs(t, err, domain.ErrNotRegenerable)
	assert.Len(t, f.store.Jobs(), 1)
}

func TestRegenerator_UnknownJob(t *testing.T) {
	f := newRegenerateFixture(domain.Quota{Allowed: true})

	_, err := f.regenerator.Regenerate(context.Background(), jobA)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestRegenerator_RespectsQuota(t *testing.T) {
	f := newRegenerateFixture(domain.Quota{Allowed: false, CurrentCount: 3, Limit: 3})
	seedFailed(f.store, jobA, domain.StatusFailed)

	_, err := f.regenerator.Regenerate(context.Background(), jobA)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Empty(t, f.publisher.Messages())
}

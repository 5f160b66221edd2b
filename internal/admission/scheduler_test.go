package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/pipelinetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)

type fakeLister struct {
	candidates map[domain.JobType][]Candidate
	err        error
}

func (f *fakeLister) Eligible(_ context.Context, jobType domain.JobType, _ int) ([]Candidate, error) {
	return f.candidates[jobType], f.err
}

// storeQuota checks quota against the in-memory store the way Directory does
// against Postgres
type storeQuota struct {
	store *pipelinetest.Store
	limit int
	pro   map[string]bool
	err   error
}

func (q *storeQuota) Check(ctx context.Context, subjectID string, monthStart time.Time) (domain.Quota, error) {
	if q.err != nil {
		return domain.Quota{}, q.err
	}
	count, err := q.store.CountActiveSince(ctx, subjectID, monthStart)
	if err != nil {
		return domain.Quota{}, err
	}
	if q.pro[subjectID] {
		return domain.Quota{Allowed: true, CurrentCount: count, IsPro: true}, nil
	}
	return domain.Quota{Allowed: count < q.limit, CurrentCount: count, Limit: q.limit}, nil
}

type schedulerFixture struct {
	scheduler *Scheduler
	store     *pipelinetest.Store
	publisher *pipelinetest.Publisher
	lister    *fakeLister
	quota     *storeQuota
}

func newFixture(t *testing.T, types ...domain.JobType) *schedulerFixture {
	t.Helper()

	clock := pipelinetest.NewClock(testNow)
	store := pipelinetest.NewStore(clock)
	publisher := &pipelinetest.Publisher{}
	lister := &fakeLister{candidates: map[domain.JobType][]Candidate{
		domain.JobTypeDaily: {{SubjectID: "subject-1", Label: "Ada"}},
	}}
	quota := &storeQuota{store: store, limit: 3}

	s := NewScheduler(Config{
		Store:        store,
		Subjects:     lister,
		Quota:        quota,
		Publisher:    publisher,
		Types:        types,
		EpisodeBatch: 1,
		Logger:       pipelinetest.Logger(),
	})
	s.now = clock.Now

	return &schedulerFixture{scheduler: s, store: store, publisher: publisher, lister: lister, quota: quota}
}

// seedMonth gives subjectID n non-failed jobs earlier this month
func seedMonth(store *pipelinetest.Store, subjectID string, n int) {
	for i := range n {
		created := testNow.AddDate(0, 0, -(i + 1))
		store.Seed(domain.Job{
			ID:          uuid.NewString(),
			SubjectID:   subjectID,
			Type:        domain.JobTypeDaily,
			Status:      domain.StatusCompleted,
			Title:       "Daily Briefing",
			WindowStart: created.Add(-24 * time.Hour),
			WindowEnd:   created,
			CreatedAt:   created,
		})
	}
}

func jobsFor(store *pipelinetest.Store, subjectID string) []domain.Job {
	var out []domain.Job
	for _, job := range store.Jobs() {
		if job.SubjectID == subjectID {
			out = append(out, job)
		}
	}
	return out
}

func TestScheduler_UnderQuotaAdmitsAndEnqueues(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	seedMonth(f.store, "subject-1", 2)

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Processed: 1, Enqueued: 1}, stats)

	jobs := jobsFor(f.store, "subject-1")
	require.Len(t, jobs, 3)
	admitted := jobs[2]
	assert.Equal(t, domain.StatusPending, admitted.Status)
	assert.Equal(t, "Daily Briefing: March 14, 2026", admitted.Title)
	assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), admitted.WindowStart)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), admitted.WindowEnd)

	messages := f.publisher.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, admitted.ID, messages[0].JobID)
	assert.Equal(t, "daily", messages[0].Type)
	assert.Equal(t, testNow.UnixMilli(), messages[0].RequestedAt)
}

func TestScheduler_QuotaReachedSkips(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	seedMonth(f.store, "subject-1", 3)

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Processed: 1, Skipped: 1}, stats)

	assert.Len(t, jobsFor(f.store, "subject-1"), 3)
	assert.Empty(t, f.publisher.Messages())
}

func TestScheduler_FailedJobsDoNotCount(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	seedMonth(f.store, "subject-1", 2)
	f.store.Seed(domain.Job{
		ID:          uuid.NewString(),
		SubjectID:   "subject-1",
		Type:        domain.JobTypeDaily,
		Status:      domain.StatusFailed,
		WindowStart: testNow.AddDate(0, 0, -10),
		CreatedAt:   testNow.AddDate(0, 0, -9),
	})

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enqueued)
}

func TestScheduler_LastMonthDoesNotCount(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	for i := range 3 {
		created := time.Date(2026, 2, 20+i, 6, 0, 0, 0, time.UTC)
		f.store.Seed(domain.Job{
			ID:          uuid.NewString(),
			SubjectID:   "subject-1",
			Type:        domain.JobTypeDaily,
			Status:      domain.StatusCompleted,
			WindowStart: created,
			CreatedAt:   created,
		})
	}

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enqueued)
}

func TestScheduler_ProSubjectIsUnmetered(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	f.quota.pro = map[string]bool{"subject-1": true}
	seedMonth(f.store, "subject-1", 5)

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enqueued)
	assert.Len(t, jobsFor(f.store, "subject-1"), 6)
}

func TestScheduler_StaleQuotaCheckIsCaughtAtInsert(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	seedMonth(f.store, "subject-1", 3)
	// the checker saw an older count
	f.scheduler.quota = QuotaCheckerFunc(func(context.Context, string, time.Time) (domain.Quota, error) {
		return domain.Quota{Allowed: true, CurrentCount: 2, Limit: 3}, nil
	})

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Processed: 1, Skipped: 1}, stats)
	assert.Len(t, jobsFor(f.store, "subject-1"), 3)
}

func TestScheduler_SecondRunInSameWindowSkips(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)

	_, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Processed: 1, Skipped: 1}, stats)
	assert.Len(t, jobsFor(f.store, "subject-1"), 1)
	assert.Len(t, f.publisher.Messages(), 1)
}

func TestScheduler_EnqueueFailureLeavesPendingJob(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	f.publisher.FailWith(errors.New("broker down"))

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Processed: 1, Errors: 1}, stats)

	jobs := jobsFor(f.store, "subject-1")
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.StatusPending, jobs[0].Status)
}

func TestScheduler_PerSubjectErrorsDoNotStopTheBatch(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	f.lister.candidates[domain.JobTypeDaily] = []Candidate{{SubjectID: "subject-1"}, {SubjectID: "subject-2"}}
	f.store.FailOn("AdmitJob", errors.New("connection reset"))

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Processed: 2, Enqueued: 1, Errors: 1}, stats)
	assert.Len(t, jobsFor(f.store, "subject-2"), 1)
}

func TestScheduler_QuotaErrorCountsAsError(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	f.quota.err = errors.New("subject subject-1 not found")

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Processed: 1, Errors: 1}, stats)
	assert.Empty(t, f.store.Jobs())
}

func TestScheduler_EpisodeSkipsQuota(t *testing.T) {
	f := newFixture(t, domain.JobTypeEpisode)
	f.quota.err = errors.New("must not be called")
	f.lister.candidates[domain.JobTypeEpisode] = []Candidate{{SubjectID: "entity-7", Label: "The Budget Process"}}

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Processed: 1, Enqueued: 1}, stats)

	jobs := jobsFor(f.store, "entity-7")
	require.Len(t, jobs, 1)
	assert.Equal(t, "The Budget Process", jobs[0].Title)
	assert.Equal(t, domain.JobTypeEpisode, jobs[0].Type)
}

func TestScheduler_ListFailureAbortsRun(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	f.lister.err = errors.New("db down")

	_, err := f.scheduler.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, f.store.Runs(), 1)
}

func TestScheduler_RecordsAudit(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	seedMonth(f.store, "subject-1", 3)

	_, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)

	runs := f.store.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, domain.AdmissionRun{ExecutedAt: testNow, Processed: 1, Skipped: 1}, runs[0])
}

func TestScheduler_AuditFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, domain.JobTypeDaily)
	f.store.FailOn("RecordAdmissionRun", errors.New("disk full"))

	stats, err := f.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enqueued)
}

func TestWindow(t *testing.T) {
	tests := []struct {
		jobType domain.JobType
		start   time.Time
		end     time.Time
	}{
		{domain.JobTypeDaily, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
		{domain.JobTypeWeekly, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{domain.JobTypeEpisode, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.jobType), func(t *testing.T) {
			start, end, err := Window(tt.jobType, testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}

	_, _, err := Window("monthly", testNow)
	assert.Error(t, err)
}

func TestWindow_StableAcrossTheDay(t *testing.T) {
	for _, jobType := range []domain.JobType{domain.JobTypeDaily, domain.JobTypeWeekly, domain.JobTypeEpisode} {
		morning, _, err := Window(jobType, time.Date(2026, 3, 14, 0, 5, 0, 0, time.UTC))
		require.NoError(t, err)
		night, _, err := Window(jobType, time.Date(2026, 3, 14, 23, 55, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, morning, night, string(jobType))
	}

	// a Monday starts a new weekly window
	start, end, err := Window(domain.JobTypeWeekly, time.Date(2026, 3, 16, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), end)
}

func TestTitle(t *testing.T) {
	end := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, "Daily Briefing: March 14, 2026", Title(domain.JobTypeDaily, "Ada", end))
	assert.Equal(t, "Weekly Briefing: Week ending March 14, 2026", Title(domain.JobTypeWeekly, "Ada", end))
	assert.Equal(t, "Weekly Briefing: Week ending March 15, 2026",
		Title(domain.JobTypeWeekly, "Ada", time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Committees", Title(domain.JobTypeEpisode, "Committees", end))
	assert.Equal(t, "Episode: March 14, 2026", Title(domain.JobTypeEpisode, "", end))
}

func TestParseTypes(t *testing.T) {
	types, err := ParseTypes([]string{"daily", "Weekly"})
	require.NoError(t, err)
	assert.Equal(t, []domain.JobType{domain.JobTypeDaily, domain.JobTypeWeekly}, types)

	_, err = ParseTypes([]string{"hourly"})
	assert.Error(t, err)
}

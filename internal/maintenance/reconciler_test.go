package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/pipelinetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const grace = 30 * time.Minute

type reconcileFixture struct {
	reconciler *Reconciler
	store      *pipelinetest.Store
	objects    *pipelinetest.Objects
	clock      *pipelinetest.Clock
}

func newReconcileFixture() *reconcileFixture {
	clock := pipelinetest.NewClock(testNow)
	store := pipelinetest.NewStore(clock)
	objects := pipelinetest.NewObjects(clock)

	r := NewReconciler(store, objects, grace, 128, pipelinetest.Logger())
	r.now = clock.Now
	return &reconcileFixture{reconciler: r, store: store, objects: objects, clock: clock}
}

func (f *reconcileFixture) putAudio(t *testing.T, id string, meta map[string]string) string {
	t.Helper()
	key := domain.AudioKey("subject-1", testNow, id, "mp3")
	_, err := f.objects.Put(context.Background(), key, make([]byte, 16000), "audio/mpeg", meta)
	require.NoError(t, err)
	return key
}

func strPtr(s string) *string { return &s }

func TestReconciler_RelinksAudioLeftAtScriptReady(t *testing.T) {
	f := newReconcileFixture()
	f.store.Seed(domain.Job{ID: jobA, SubjectID: "subject-1", Status: domain.StatusScriptReady})
	key := f.putAudio(t, jobA, map[string]string{domain.DurationMetaKey: "42"})

	report, err := f.reconciler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Relinked: 1}, report)

	job, _ := f.store.Job(jobA)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, key, domain.StringValue(job.AudioKey))
	assert.Equal(t, pipelinetest.BaseURL+"/"+key, domain.StringValue(job.AudioURL))
	assert.Equal(t, pipelinetest.CDNBaseURL+"/"+key, domain.StringValue(job.CDNURL))
	require.NotNil(t, job.AudioDuration)
	assert.Equal(t, 42, *job.AudioDuration)
	assert.Equal(t, []domain.Status{domain.StatusScriptReady, domain.StatusAudioProcessing, domain.StatusCompleted}, f.store.History(jobA))
}

func TestReconciler_EstimatesMissingDuration(t *testing.T) {
	f := newReconcileFixture()
	f.store.Seed(domain.Job{ID: jobA, SubjectID: "subject-1", Status: domain.StatusScriptReady})
	f.putAudio(t, jobA, nil)

	_, err := f.reconciler.Run(context.Background())
	require.NoError(t, err)

	job, _ := f.store.Job(jobA)
	require.NotNil(t, job.AudioDuration)
	assert.Equal(t, 1, *job.AudioDuration)
}

func TestReconciler_DeletesOrphansAfterGrace(t *testing.T) {
	f := newReconcileFixture()
	f.store.Seed(domain.Job{ID: jobA, SubjectID: "subject-1", Status: domain.StatusFailed})
	failedKey := f.putAudio(t, jobA, nil)
	missingKey := f.putAudio(t, jobB, nil)

	report, err := f.reconciler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 2}, report)
	assert.True(t, f.objects.Has(failedKey))
	assert.True(t, f.objects.Has(missingKey))

	f.clock.Advance(grace + time.Minute)

	report, err = f.reconciler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 2, Deleted: 2}, report)
	assert.False(t, f.objects.Has(failedKey))
	assert.False(t, f.objects.Has(missingKey))

	job, _ := f.store.Job(jobA)
	assert.Equal(t, domain.StatusFailed, job.Status)
}

func TestReconciler_DeletesSupersededAudio(t *testing.T) {
	f := newReconcileFixture()
	linked := domain.AudioKey("subject-1", testNow, jobA, "wav")
	f.store.Seed(domain.Job{ID: jobA, SubjectID: "subject-1", Status: domain.StatusCompleted, AudioKey: &linked})
	_, err := f.objects.Put(context.Background(), linked, []byte("wav"), "audio/wav", nil)
	require.NoError(t, err)
	stale := f.putAudio(t, jobA, nil)
	f.clock.Advance(grace + time.Minute)

	report, err := f.reconciler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 2, Deleted: 1}, report)
	assert.True(t, f.objects.Has(linked))
	assert.False(t, f.objects.Has(stale))
}

func TestReconciler_LeasedJobIsLeftToItsWorker(t *testing.T) {
	f := newReconcileFixture()
	owner := "media-1"
	until := testNow.Add(5 * time.Minute)
	f.store.Seed(domain.Job{ID: jobA, SubjectID: "subject-1", Status: domain.StatusScriptReady, LeaseOwner: &owner, LeaseUntil: &until})
	key := f.putAudio(t, jobA, map[string]string{domain.DurationMetaKey: "3"})

	report, err := f.reconciler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1}, report)
	assert.True(t, f.objects.Has(key))

	job, _ := f.store.Job(jobA)
	assert.Equal(t, domain.StatusScriptReady, job.Status)
}

func TestReconciler_Images(t *testing.T) {
	f := newReconcileFixture()
	ctx := context.Background()

	unlinked := domain.ImageKey(testNow, jobA, "png")
	linked := domain.ImageKey(testNow, jobB, "png")
	replaced := domain.ImageKey(testNow, jobC, "png")
	orphan := domain.ImageKey(testNow, jobD, "png")

	f.store.Seed(domain.Job{ID: jobA, Status: domain.StatusCompleted})
	f.store.Seed(domain.Job{ID: jobB, Status: domain.StatusCompleted, ImageURL: strPtr(f.objects.URLFor(linked).URL)})
	f.store.Seed(domain.Job{ID: jobC, Status: domain.StatusScriptReady, ImageURL: strPtr("https://img.test/other.png")})
	for _, key := range []string{unlinked, linked, replaced, orphan} {
		_, err := f.objects.Put(ctx, key, []byte("png"), "image/png", nil)
		require.NoError(t, err)
	}
	f.clock.Advance(grace + time.Minute)

	report, err := f.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 4, Relinked: 1, Deleted: 2}, report)

	job, _ := f.store.Job(jobA)
	assert.Equal(t, pipelinetest.BaseURL+"/"+unlinked, domain.StringValue(job.ImageURL))
	assert.Empty(t, f.store.History(jobA))

	assert.True(t, f.objects.Has(unlinked))
	assert.True(t, f.objects.Has(linked))
	assert.False(t, f.objects.Has(replaced))
	assert.False(t, f.objects.Has(orphan))
}

func TestReconciler_UnknownKeyIsAnError(t *testing.T) {
	f := newReconcileFixture()
	_, err := f.objects.Put(context.Background(), "audio/subject-1/2026-03-14/notes.txt", []byte("x"), "text/plain", nil)
	require.NoError(t, err)

	report, err := f.reconciler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Errors: 1}, report)
}

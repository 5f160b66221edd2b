package pipelinetest

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
)

// Store is an in-memory Status Store with the same conditional-update
// semantics as the Postgres one. Every successful transition is recorded.
//
// Thread-safety: All methods are safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	clock       *Clock
	jobs        map[string]*domain.Job
	transitions []domain.Transition
	runs        []domain.AdmissionRun
	failures    map[string]error
}

// NewStore creates an empty store reading time from clock.
func NewStore(clock *Clock) *Store {
	return &Store{
		clock:    clock,
		jobs:     make(map[string]*domain.Job),
		failures: make(map[string]error),
	}
}

// Seed inserts job as-is. Zero timestamps are set to the current time.
func (s *Store) Seed(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	s.jobs[job.ID] = &job
}

// FailOn makes the next call to op return err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Job returns a copy of the job with id.
func (s *Store) Job(id string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return *job, true
}

// Jobs returns copies of every job ordered by creation time.
func (s *Store) Jobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	slices.SortFunc(out, func(a, b domain.Job) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// History returns the statuses a job moved through, starting at its first
// recorded from-status.
func (s *Store) History(id string) []domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Status
	for _, t := range s.transitions {
		if t.JobID != id {
			continue
		}
		if len(out) == 0 {
			out = append(out, t.From)
		}
		out = append(out, t.To)
	}
	return out
}

// Runs returns the recorded admission runs.
func (s *Store) Runs() []domain.AdmissionRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.runs)
}

func (s *Store) injected(op string) error {
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return err
}

func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	_, err := s.AdmitJob(context.Background(), job, 0)
	return err
}

func (s *Store) AdmitJob(_ context.Context, job *domain.Job, limit int) (domain.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("AdmitJob"); err != nil {
		return domain.Quota{}, err
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock.Now()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	count := s.countActiveSince(job.SubjectID, domain.MonthStart(job.CreatedAt))
	quota := domain.Quota{Allowed: true, CurrentCount: count, Limit: limit, IsPro: limit <= 0}
	if limit > 0 && count >= limit {
		quota.Allowed = false
		return quota, domain.ErrQuotaExceeded
	}

	for _, existing := range s.jobs {
		if existing.Status != domain.StatusFailed &&
			existing.SubjectID == job.SubjectID &&
			existing.Type == job.Type &&
			existing.WindowStart.Equal(job.WindowStart) {
			return quota, domain.ErrDuplicateAdmission
		}
	}

	job.Status = domain.StatusPending
	stored := *job
	s.jobs[job.ID] = &stored
	quota.CurrentCount++
	return quota, nil
}

func (s *Store) CountActiveSince(_ context.Context, subjectID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveSince(subjectID, since), nil
}

func (s *Store) countActiveSince(subjectID string, since time.Time) int {
	count := 0
	for _, job := range s.jobs {
		if job.SubjectID == subjectID && job.Status != domain.StatusFailed && !job.CreatedAt.Before(since) {
			count++
		}
	}
	return count
}

func (s *Store) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	out := *job
	return &out, nil
}

// move applies a conditional transition. guard and apply run under the lock.
func (s *Store) move(op, id string, from, to domain.Status, guard func(*domain.Job) bool, apply func(*domain.Job)) (*domain.Job, error) {
	if err := domain.ValidateTransition(from, to); err != nil {
		return nil, err
	}
	if err := s.injected(op); err != nil {
		return nil, err
	}

	job, ok := s.jobs[id]
	if !ok || job.Status != from || (guard != nil && !guard(job)) {
		return nil, fmt.Errorf("%w: %s expected %s", domain.ErrTransitionConflict, id, from)
	}

	now := s.clock.Now()
	job.Status = to
	job.UpdatedAt = now
	if apply != nil {
		apply(job)
	}
	s.transitions = append(s.transitions, domain.Transition{JobID: id, From: from, To: to, At: now})
	return job, nil
}

func (s *Store) Transition(_ context.Context, id string, from, to domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.move("Transition", id, from, to, nil, nil)
	return err
}

func (s *Store) ClaimPending(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.move("ClaimPending", id, domain.StatusPending, domain.StatusProcessing, nil, func(j *domain.Job) {
		now := s.clock.Now()
		j.StartedAt = &now
	})
	if err != nil {
		return nil, err
	}
	out := *job
	return &out, nil
}

func (s *Store) ReclaimProcessing(_ context.Context, id string, cutoff time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("ReclaimProcessing"); err != nil {
		return nil, err
	}
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.StatusProcessing || !job.UpdatedAt.Before(cutoff) {
		return nil, fmt.Errorf("%w: %s is not an idle processing job", domain.ErrTransitionConflict, id)
	}
	now := s.clock.Now()
	job.StartedAt = &now
	job.UpdatedAt = now
	out := *job
	return &out, nil
}

func (s *Store) SaveContent(_ context.Context, id string, bundle *domain.Bundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.move("SaveContent", id, domain.StatusProcessing, domain.StatusContentGathered, nil, func(j *domain.Job) {
		j.ContentBundle = data
	})
	return err
}

func (s *Store) SaveScript(_ context.Context, id string, script domain.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.move("SaveScript", id, domain.StatusContentGathered, domain.StatusScriptReady, nil, func(j *domain.Job) {
		j.Script = &script.Script
		j.Headline = &script.Headline
		j.Description = &script.Description
	})
	return err
}

func failed(now time.Time, message string) func(*domain.Job) {
	return func(j *domain.Job) {
		j.ErrorMessage = &message
		j.CompletedAt = &now
		j.LeaseOwner = nil
		j.LeaseUntil = nil
	}
}

func (s *Store) Fail(_ context.Context, id string, from domain.Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.move("Fail", id, from, domain.StatusFailed, nil, failed(s.clock.Now(), message))
	return err
}

func (s *Store) FailStuck(_ context.Context, id string, status domain.Status, cutoff time.Time, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.move("FailStuck", id, status, domain.StatusFailed,
		func(j *domain.Job) bool { return j.UpdatedAt.Before(cutoff) },
		failed(s.clock.Now(), message))
	return err
}

func (s *Store) ClaimScriptReady(_ context.Context, owner string, lease time.Duration, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("ClaimScriptReady"); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	candidates := s.selectLocked(limit, func(j *domain.Job) bool {
		return j.Status == domain.StatusScriptReady && (j.LeaseUntil == nil || j.LeaseUntil.Before(now))
	})

	until := now.Add(lease)
	out := make([]domain.Job, 0, len(candidates))
	for _, job := range candidates {
		job.LeaseOwner = &owner
		job.LeaseUntil = &until
		out = append(out, *job)
	}
	return out, nil
}

func (s *Store) ReleaseLease(_ context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("ReleaseLease"); err != nil {
		return err
	}
	if job, ok := s.jobs[id]; ok && job.LeaseOwner != nil && *job.LeaseOwner == owner {
		job.LeaseOwner = nil
		job.LeaseUntil = nil
	}
	return nil
}

func (s *Store) CompleteAudio(_ context.Context, id, owner string, audio domain.Audio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("CompleteAudio"); err != nil {
		return err
	}

	now := s.clock.Now()
	leaseFree := func(j *domain.Job) bool {
		return j.LeaseOwner == nil || *j.LeaseOwner == owner || (j.LeaseUntil != nil && j.LeaseUntil.Before(now))
	}
	if _, err := s.move("", id, domain.StatusScriptReady, domain.StatusAudioProcessing, leaseFree, nil); err != nil {
		return err
	}
	_, err := s.move("", id, domain.StatusAudioProcessing, domain.StatusCompleted, nil, func(j *domain.Job) {
		j.AudioKey = &audio.Key
		j.AudioURL = &audio.URL
		j.CDNURL = &audio.CDNURL
		j.AudioDuration = &audio.DurationSeconds
		j.CompletedAt = &now
		j.LeaseOwner = nil
		j.LeaseUntil = nil
	})
	return err
}

func (s *Store) ScriptCandidates(_ context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	return s.selectCopies(limit, func(j *domain.Job) bool {
		return j.Status == domain.StatusContentGathered && j.UpdatedAt.Before(cutoff)
	}), nil
}

func (s *Store) ImageCandidates(_ context.Context, statuses []domain.Status, cutoff time.Time, maxAttempts, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Job
	for _, job := range s.jobs {
		if job.ImageURL == nil &&
			slices.Contains(statuses, job.Status) &&
			job.ImageAttempts < maxAttempts &&
			(job.ImageAttemptedAt == nil || job.ImageAttemptedAt.Before(cutoff)) {
			matched = append(matched, job)
		}
	}
	slices.SortFunc(matched, func(a, b *domain.Job) int {
		if c := a.ImageAttempts - b.ImageAttempts; c != 0 {
			return c
		}
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]domain.Job, len(matched))
	for i, job := range matched {
		out[i] = *job
	}
	return out, nil
}

func (s *Store) ClaimImageAttempt(_ context.Context, id string, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("ClaimImageAttempt"); err != nil {
		return err
	}
	job, ok := s.jobs[id]
	if !ok || job.ImageURL != nil || (job.ImageAttemptedAt != nil && !job.ImageAttemptedAt.Before(cutoff)) {
		return fmt.Errorf("%w: %s image attempt already claimed", domain.ErrTransitionConflict, id)
	}
	now := s.clock.Now()
	job.ImageAttempts++
	job.ImageAttemptedAt = &now
	return nil
}

func (s *Store) PatchImage(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("PatchImage"); err != nil {
		return err
	}
	job, ok := s.jobs[id]
	if !ok || job.ImageURL != nil {
		return fmt.Errorf("%w: %s already has an image", domain.ErrTransitionConflict, id)
	}
	job.ImageURL = &url
	job.UpdatedAt = s.clock.Now()
	return nil
}

func (s *Store) StuckJobs(_ context.Context, status domain.Status, cutoff time.Time, limit int) ([]domain.Job, error) {
	return s.selectCopies(limit, func(j *domain.Job) bool {
		return j.Status == status && j.UpdatedAt.Before(cutoff)
	}), nil
}

func (s *Store) RequeueCandidates(_ context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	return s.selectCopies(limit, func(j *domain.Job) bool {
		return (j.Status == domain.StatusPending || j.Status == domain.StatusProcessing) &&
			j.UpdatedAt.Before(cutoff) &&
			(j.RequeuedAt == nil || j.RequeuedAt.Before(cutoff))
	}), nil
}

func (s *Store) MarkRequeued(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("MarkRequeued"); err != nil {
		return err
	}
	if job, ok := s.jobs[id]; ok {
		now := s.clock.Now()
		job.RequeuedAt = &now
	}
	return nil
}

func (s *Store) RecordAdmissionRun(_ context.Context, run domain.AdmissionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("RecordAdmissionRun"); err != nil {
		return err
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *Store) selectCopies(limit int, match func(*domain.Job) bool) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected := s.selectLocked(limit, match)
	out := make([]domain.Job, len(selected))
	for i, job := range selected {
		out[i] = *job
	}
	return out
}

// selectLocked returns matching jobs oldest update first
func (s *Store) selectLocked(limit int, match func(*domain.Job) bool) []*domain.Job {
	var out []*domain.Job
	for _, job := range s.jobs {
		if match(job) {
			out = append(out, job)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Job) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

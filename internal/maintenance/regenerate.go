package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/google/uuid"
)

// JobReader loads a job row
type JobReader interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
}

// Admitter inserts and enqueues a new job under a quota limit
type Admitter interface {
	Admit(ctx context.Context, job *domain.Job, limit int) error
}

// QuotaChecker resolves a subject's monthly quota
type QuotaChecker interface {
	Check(ctx context.Context, subjectID string, monthStart time.Time) (domain.Quota, error)
}

// Regenerator restarts failed jobs from the beginning as new jobs
type Regenerator struct {
	jobs     JobReader
	admitter Admitter
	quota    QuotaChecker
	now      func() time.Time
	newID    func() string
}

// NewRegenerator creates a regenerator
func NewRegenerator(jobs JobReader, admitter Admitter, quota QuotaChecker) *Regenerator {
	return &Regenerator{
		jobs:     jobs,
		admitter: admitter,
		quota:    quota,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Regenerate admits a new pending job for the same subject, type and window as
// the failed job id. The failed job itself is never touched.
func (r *Regenerator) Regenerate(ctx context.Context, id string) (*domain.Job, error) {
	failed, err := r.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if failed.Status != domain.StatusFailed {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrNotRegenerable, id, failed.Status)
	}

	now := r.now().UTC()
	limit := 0
	if failed.Type != domain.JobTypeEpisode {
		quota, err := r.quota.Check(ctx, failed.SubjectID, domain.MonthStart(now))
		if err != nil {
			return nil, fmt.Errorf("check quota: %w", err)
		}
		if !quota.Allowed {
			return nil, domain.ErrQuotaExceeded
		}
		if !quota.IsPro {
			limit = quota.Limit
		}
	}

	job := &domain.Job{
		ID:          r.newID(),
		SubjectID:   failed.SubjectID,
		Type:        failed.Type,
		Title:       failed.Title,
		WindowStart: failed.WindowStart,
		WindowEnd:   failed.WindowEnd,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.admitter.Admit(ctx, job, limit); err != nil {
		return nil, err
	}
	return job, nil
}

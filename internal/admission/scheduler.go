package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/metrics"
	"github.com/cuongbtq/briefcast/internal/queue"
	"github.com/google/uuid"
)

// Store is the slice of the Status Store admission needs
type Store interface {
	AdmitJob(ctx context.Context, job *domain.Job, limit int) (domain.Quota, error)
	RecordAdmissionRun(ctx context.Context, run domain.AdmissionRun) error
}

// RunStats are the counters of one admission run
type RunStats struct {
	Processed int
	Enqueued  int
	Skipped   int
	Errors    int
}

// Config holds the scheduler's collaborators
type Config struct {
	Store        Store
	Subjects     SubjectLister
	Quota        QuotaChecker
	Publisher    queue.Publisher
	Types        []domain.JobType
	EpisodeBatch int
	Logger       *slog.Logger
}

// Scheduler admits jobs for every eligible subject
type Scheduler struct {
	store        Store
	subjects     SubjectLister
	quota        QuotaChecker
	publisher    queue.Publisher
	types        []domain.JobType
	episodeBatch int
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

// NewScheduler creates an admission scheduler
func NewScheduler(cfg Config) *Scheduler {
	return &Scheduler{
		store:        cfg.Store,
		subjects:     cfg.Subjects,
		quota:        cfg.Quota,
		publisher:    cfg.Publisher,
		types:        cfg.Types,
		episodeBatch: cfg.EpisodeBatch,
		logger:       cfg.Logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// outcome of admitting one subject
type outcome int

const (
	outcomeEnqueued outcome = iota
	outcomeSkipped
	outcomeError
)

// Run admits one job per eligible subject for every configured type. Failures
// are scoped to the subject; only a failure to list subjects aborts the run.
func (s *Scheduler) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats
	executedAt := s.now().UTC()

	var runErr error
	for _, jobType := range s.types {
		candidates, err := s.subjects.Eligible(ctx, jobType, s.episodeBatch)
		if err != nil {
			runErr = fmt.Errorf("list %s subjects: %w", jobType, err)
			break
		}

		for _, c := range candidates {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}

			stats.Processed++
			switch s.admitCandidate(ctx, jobType, c, executedAt) {
			case outcomeEnqueued:
				stats.Enqueued++
				metrics.AdmissionOutcomes.WithLabelValues(string(jobType), "enqueued").Inc()
			case outcomeSkipped:
				stats.Skipped++
				metrics.AdmissionOutcomes.WithLabelValues(string(jobType), "skipped").Inc()
			case outcomeError:
				stats.Errors++
				metrics.AdmissionOutcomes.WithLabelValues(string(jobType), "error").Inc()
			}
		}
		if runErr != nil {
			break
		}
	}

	s.record(ctx, executedAt, stats)

	s.logger.Info("Admission run finished",
		slog.Int("processed", stats.Processed),
		slog.Int("enqueued", stats.Enqueued),
		slog.Int("skipped", stats.Skipped),
		slog.Int("errors", stats.Errors),
	)
	return stats, runErr
}

func (s *Scheduler) admitCandidate(ctx context.Context, jobType domain.JobType, c Candidate, now time.Time) outcome {
	logger := s.logger.With(
		slog.String("subject_id", c.SubjectID),
		slog.String("type", string(jobType)),
	)

	limit := 0
	if jobType != domain.JobTypeEpisode {
		quota, err := s.quota.Check(ctx, c.SubjectID, domain.MonthStart(now))
		if err != nil {
			logger.Error("Admission failed", slog.String("step", "quota"), slog.String("error", err.Error()))
			return outcomeError
		}
		if !quota.Allowed {
			logger.Info("Monthly quota reached, skipping",
				slog.Int("current_count", quota.CurrentCount),
				slog.Int("limit", quota.Limit),
			)
			return outcomeSkipped
		}
		if !quota.IsPro {
			limit = quota.Limit
		}
	}

	start, end, err := Window(jobType, now)
	if err != nil {
		logger.Error("Admission failed", slog.String("step", "window"), slog.String("error", err.Error()))
		return outcomeError
	}

	job := &domain.Job{
		ID:          s.newID(),
		SubjectID:   c.SubjectID,
		Type:        jobType,
		Title:       Title(jobType, c.Label, end),
		WindowStart: start,
		WindowEnd:   end,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.Admit(ctx, job, limit)
	switch {
	case err == nil:
		logger.Info("Job admitted", slog.String("job_id", job.ID))
		return outcomeEnqueued
	case errors.Is(err, domain.ErrQuotaExceeded):
		logger.Info("Monthly quota reached at insert, skipping")
		return outcomeSkipped
	case errors.Is(err, domain.ErrDuplicateAdmission):
		logger.Info("Job already admitted for window, skipping")
		return outcomeSkipped
	default:
		logger.Error("Admission failed", slog.String("step", stepOf(err)), slog.String("error", err.Error()))
		return outcomeError
	}
}

// enqueueError marks a job that was inserted but never published
type enqueueError struct {
	jobID string
	err   error
}

func (e *enqueueError) Error() string {
	return fmt.Sprintf("job %s left pending: enqueue: %v", e.jobID, e.err)
}

func (e *enqueueError) Unwrap() error {
	return e.err
}

func stepOf(err error) string {
	if IsEnqueueFailure(err) {
		return "enqueue"
	}
	return "insert"
}

// Admit inserts job at pending under the quota limit (<= 0 is unmetered) and
// publishes its message. A publish failure leaves the row pending for the
// orphan requeue to pick up.
func (s *Scheduler) Admit(ctx context.Context, job *domain.Job, limit int) error {
	if _, err := s.store.AdmitJob(ctx, job, limit); err != nil {
		return err
	}

	if err := queue.Publish(ctx, s.publisher, queue.FromJob(job, s.now())); err != nil {
		return &enqueueError{jobID: job.ID, err: err}
	}
	return nil
}

// IsEnqueueFailure reports whether err came from publishing an inserted job
func IsEnqueueFailure(err error) bool {
	var enqueueErr *enqueueError
	return errors.As(err, &enqueueErr)
}

func (s *Scheduler) record(ctx context.Context, executedAt time.Time, stats RunStats) {
	run := domain.AdmissionRun{
		ExecutedAt: executedAt,
		Processed:  stats.Processed,
		Enqueued:   stats.Enqueued,
		Skipped:    stats.Skipped,
		Errors:     stats.Errors,
	}
	if err := s.store.RecordAdmissionRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("Failed to record admission run", slog.String("error", err.Error()))
	}
}

// ParseTypes converts configured type names
func ParseTypes(names []string) ([]domain.JobType, error) {
	types := make([]domain.JobType, 0, len(names))
	for _, name := range names {
		t, err := domain.ParseJobType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobColumns = `id, subject_id, type, status, title, window_start, window_end,
	content_bundle, script, headline, description, audio_key, audio_url, cdn_url,
	audio_duration, image_url, error_message, lease_owner, lease_until,
	created_at, updated_at, started_at, completed_at,
	requeued_at, image_attempts, image_attempted_at`

// uniqueViolation is the Postgres SQLSTATE for a unique index conflict
const uniqueViolation = "23505"

// Store is the Postgres-backed status store shared by every pipeline stage
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Store instance
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// DB returns the underlying handle for collaborators sharing the connection pool
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// CreateJob inserts a job at pending without a quota check
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	return insertJob(ctx, s.db, job)
}

// AdmitJob inserts a pending job if the subject is still under limit for the
// month of job.CreatedAt. A limit <= 0 means unmetered. The count and insert run
// under a per-subject advisory lock so concurrent admissions cannot overshoot.
func (s *Store) AdmitJob(ctx context.Context, job *domain.Job, limit int) (domain.Quota, error) {
	result := domain.Quota{Limit: limit, IsPro: limit <= 0}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin admission transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", job.SubjectID); err != nil {
		return result, fmt.Errorf("failed to lock subject: %w", err)
	}

	count, err := countActiveSince(ctx, tx, job.SubjectID, domain.MonthStart(job.CreatedAt))
	if err != nil {
		return result, err
	}
	result.CurrentCount = count

	if limit > 0 && count >= limit {
		return result, domain.ErrQuotaExceeded
	}

	if err := insertJob(ctx, tx, job); err != nil {
		return result, err
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit admission: %w", err)
	}

	result.Allowed = true
	result.CurrentCount = count + 1
	return result, nil
}

// CountActiveSince counts the subject's non-failed jobs created at or after since
func (s *Store) CountActiveSince(ctx context.Context, subjectID string, since time.Time) (int, error) {
	return countActiveSince(ctx, s.db, subjectID, since)
}

func countActiveSince(ctx context.Context, q sqlx.QueryerContext, subjectID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM jobs
		WHERE subject_id = $1
		  AND created_at >= $2
		  AND status <> $3
	`

	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, subjectID, since, domain.StatusFailed); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

func insertJob(ctx context.Context, exec sqlx.ExecerContext, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, subject_id, type, status, title,
			window_start, window_end, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
	`

	_, err := exec.ExecContext(
		ctx,
		query,
		job.ID,
		job.SubjectID,
		job.Type,
		domain.StatusPending,
		job.Title,
		job.WindowStart,
		job.WindowEnd,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: subject %s %s from %s", domain.ErrDuplicateAdmission,
				job.SubjectID, job.Type, job.WindowStart.Format(time.RFC3339))
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	job.Status = domain.StatusPending
	return nil
}

// GetJob loads one job by id
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// JobTransitions returns the status history of a job, oldest first
func (s *Store) JobTransitions(ctx context.Context, id string) ([]domain.Transition, error) {
	query := `
		SELECT job_id, from_status, to_status, at
		FROM job_transitions
		WHERE job_id = $1
		ORDER BY id
	`

	var history []domain.Transition
	if err := s.db.SelectContext(ctx, &history, query, id); err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return history, nil
}

// RecordAdmissionRun appends one admission audit row
func (s *Store) RecordAdmissionRun(ctx context.Context, run domain.AdmissionRun) error {
	query := `
		INSERT INTO admission_runs (executed_at, processed, enqueued, skipped, errors)
		VALUES (:executed_at, :processed, :enqueued, :skipped, :errors)
	`

	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to record admission run: %w", err)
	}
	return nil
}

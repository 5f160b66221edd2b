package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/lib/pq"
)

// ScriptCandidates returns content_gathered jobs idle since cutoff, for the
// script poller to pick up work the worker chain did not finish.
func (s *Store) ScriptCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, domain.StatusContentGathered, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to select script candidates: %w", err)
	}
	return jobs, nil
}

// ImageCandidates returns jobs in one of statuses that still have no image,
// have had fewer than maxAttempts tries and none since cutoff. Jobs with the
// fewest attempts come first.
func (s *Store) ImageCandidates(ctx context.Context, statuses []domain.Status, cutoff time.Time, maxAttempts, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = ANY($1)
		  AND image_url IS NULL
		  AND image_attempts < $2
		  AND (image_attempted_at IS NULL OR image_attempted_at < $3)
		ORDER BY image_attempts, updated_at
		LIMIT $4
	`

	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, pq.Array(names), maxAttempts, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to select image candidates: %w", err)
	}
	return jobs, nil
}

// ClaimImageAttempt counts one image attempt for a job that has no image and
// no attempt since cutoff. Status and updated_at are never touched. A job
// someone else just claimed reports ErrTransitionConflict.
func (s *Store) ClaimImageAttempt(ctx context.Context, id string, cutoff time.Time) error {
	query := `
		UPDATE jobs
		SET image_attempts = image_attempts + 1,
		    image_attempted_at = NOW()
		WHERE id = $1
		  AND image_url IS NULL
		  AND (image_attempted_at IS NULL OR image_attempted_at < $2)
	`

	result, err := s.db.ExecContext(ctx, query, id, cutoff)
	if err != nil {
		return fmt.Errorf("failed to claim image attempt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s image attempt already claimed", domain.ErrTransitionConflict, id)
	}
	return nil
}

// PatchImage sets image_url on a job that has none. Status is never touched.
// A job that already has an image reports ErrTransitionConflict.
func (s *Store) PatchImage(ctx context.Context, id, url string) error {
	query := `
		UPDATE jobs
		SET image_url = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND image_url IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, id, url)
	if err != nil {
		return fmt.Errorf("failed to patch image: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s already has an image", domain.ErrTransitionConflict, id)
	}
	return nil
}

// StuckJobs returns jobs at status whose last update is older than cutoff
func (s *Store) StuckJobs(ctx context.Context, status domain.Status, cutoff time.Time, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, status, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to select stuck jobs: %w", err)
	}
	return jobs, nil
}

// RequeueCandidates returns pending and processing jobs idle since cutoff that
// were not republished since cutoff either.
func (s *Store) RequeueCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status IN ($1, $2)
		  AND updated_at < $3
		  AND (requeued_at IS NULL OR requeued_at < $3)
		ORDER BY updated_at
		LIMIT $4
	`

	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, query, domain.StatusPending, domain.StatusProcessing, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select requeue candidates: %w", err)
	}
	return jobs, nil
}

// MarkRequeued records that a message for the job was just republished
func (s *Store) MarkRequeued(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET requeued_at = NOW()
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark job requeued: %w", err)
	}
	return nil
}

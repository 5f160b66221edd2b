package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/metrics"
	"github.com/jmoiron/sqlx"
)

// transitionQuery builds the one conditional update every stage goes through.
// $1 is the job id, $2 the expected status and $3 the next status; extra
// assignments may use $4 onwards and guard adds conditions to the WHERE clause.
// The history row is written by the same statement, so a lost race leaves no trace.
func transitionQuery(set, guard string) string {
	return `
		WITH moved AS (
			UPDATE jobs
			SET status = $3::text,
			    updated_at = NOW()` + set + `
			WHERE id = $1
			  AND status = $2::text` + guard + `
			RETURNING id
		)
		INSERT INTO job_transitions (job_id, from_status, to_status)
		SELECT id, $2::text, $3::text FROM moved
	`
}

// transition runs a conditional status update and reports a lost race as
// ErrTransitionConflict.
func (s *Store) transition(ctx context.Context, exec sqlx.ExecerContext, id string, from, to domain.Status, query string, extra ...any) error {
	if err := s.move(ctx, exec, id, from, to, query, extra...); err != nil {
		return err
	}
	metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

// move is transition without counting the success. Callers inside a
// transaction count once the commit went through.
func (s *Store) move(ctx context.Context, exec sqlx.ExecerContext, id string, from, to domain.Status, query string, extra ...any) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}

	args := append([]any{id, from, to}, extra...)
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition job %s -> %s: %w", from, to, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		metrics.TransitionConflicts.WithLabelValues(string(from), string(to)).Inc()
		s.logger.Warn("Transition lost - job not in expected status",
			slog.String("job_id", id),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return fmt.Errorf("%w: %s expected %s", domain.ErrTransitionConflict, id, from)
	}
	return nil
}

// Transition moves a job from one status to the next with no other changes
func (s *Store) Transition(ctx context.Context, id string, from, to domain.Status) error {
	return s.transition(ctx, s.db, id, from, to, transitionQuery("", ""))
}

// ClaimPending claims a pending job for content assembly and returns the row
func (s *Store) ClaimPending(ctx context.Context, id string) (*domain.Job, error) {
	query := `
		WITH claimed AS (
			UPDATE jobs
			SET status = $3::text,
			    started_at = NOW(),
			    updated_at = NOW()
			WHERE id = $1
			  AND status = $2::text
			RETURNING ` + jobColumns + `
		), logged AS (
			INSERT INTO job_transitions (job_id, from_status, to_status)
			SELECT id, $2::text, $3::text FROM claimed
		)
		SELECT ` + jobColumns + ` FROM claimed
	`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, id, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			metrics.TransitionConflicts.WithLabelValues(string(domain.StatusPending), string(domain.StatusProcessing)).Inc()
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", id),
			)
			return nil, fmt.Errorf("%w: %s expected %s", domain.ErrTransitionConflict, id, domain.StatusPending)
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	metrics.Transitions.WithLabelValues(string(domain.StatusPending), string(domain.StatusProcessing)).Inc()
	s.logger.Info("Job claimed successfully",
		slog.String("job_id", id),
		slog.String("job_type", string(job.Type)),
	)
	return &job, nil
}

// ReclaimProcessing hands a processing job that has been idle since cutoff to
// a new assembly attempt. The status stays processing and no history row is
// written; updated_at moves so only one caller wins.
func (s *Store) ReclaimProcessing(ctx context.Context, id string, cutoff time.Time) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET started_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $2
		  AND updated_at < $3
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, id, domain.StatusProcessing, cutoff)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s is not an idle processing job", domain.ErrTransitionConflict, id)
		}
		return nil, fmt.Errorf("failed to reclaim job: %w", err)
	}

	s.logger.Info("Reclaimed idle processing job",
		slog.String("job_id", id),
		slog.Time("cutoff", cutoff),
	)
	return &job, nil
}

// SaveContent persists the assembled bundle and advances to content_gathered
func (s *Store) SaveContent(ctx context.Context, id string, bundle *domain.Bundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal content bundle: %w", err)
	}

	query := transitionQuery(`,
			    content_bundle = $4`, "")
	return s.transition(ctx, s.db, id, domain.StatusProcessing, domain.StatusContentGathered, query, data)
}

// SaveScript stores the generated script and advances to script_ready.
// Prior script fields are overwritten.
func (s *Store) SaveScript(ctx context.Context, id string, script domain.Script) error {
	query := transitionQuery(`,
			    script = $4,
			    headline = $5,
			    description = $6`, "")
	return s.transition(ctx, s.db, id, domain.StatusContentGathered, domain.StatusScriptReady, query,
		script.Script, script.Headline, script.Description)
}

// Fail moves a job from the given status to failed with an error message
func (s *Store) Fail(ctx context.Context, id string, from domain.Status, message string) error {
	query := transitionQuery(`,
			    error_message = $4,
			    completed_at = NOW(),
			    lease_owner = NULL,
			    lease_until = NULL`, "")
	return s.transition(ctx, s.db, id, from, domain.StatusFailed, query, message)
}

// FailStuck fails a job only if it is still at status and has not been
// updated since cutoff, so a job that just advanced is left alone.
func (s *Store) FailStuck(ctx context.Context, id string, status domain.Status, cutoff time.Time, message string) error {
	query := transitionQuery(`,
			    error_message = $4,
			    completed_at = NOW(),
			    lease_owner = NULL,
			    lease_until = NULL`, `
			  AND updated_at < $5`)
	return s.transition(ctx, s.db, id, status, domain.StatusFailed, query, message, cutoff)
}

// ClaimScriptReady leases up to limit script_ready jobs to owner. The status is
// left at script_ready until CompleteAudio, and updated_at is not touched so
// the watchdog still sees how long the job has been waiting.
func (s *Store) ClaimScriptReady(ctx context.Context, owner string, lease time.Duration, limit int) ([]domain.Job, error) {
	query := `
		UPDATE jobs
		SET lease_owner = $1,
		    lease_until = $2
		WHERE id IN (
			SELECT id
			FROM jobs
			WHERE status = $3
			  AND (lease_until IS NULL OR lease_until < NOW())
			ORDER BY updated_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, query, owner, time.Now().Add(lease), domain.StatusScriptReady, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim script_ready jobs: %w", err)
	}
	return jobs, nil
}

// ReleaseLease drops owner's lease on a script_ready job
func (s *Store) ReleaseLease(ctx context.Context, id, owner string) error {
	query := `
		UPDATE jobs
		SET lease_owner = NULL,
		    lease_until = NULL
		WHERE id = $1
		  AND lease_owner = $2
	`

	if _, err := s.db.ExecContext(ctx, query, id, owner); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// CompleteAudio links a stored audio artifact and finishes the job. Both steps
// of script_ready -> audio_processing -> completed run in one transaction. A job
// leased by someone else with a live lease is reported as a conflict.
func (s *Store) CompleteAudio(ctx context.Context, id, owner string, audio domain.Audio) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audio transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	startQuery := transitionQuery("", `
			  AND (lease_owner IS NULL OR lease_owner = $4 OR lease_until < NOW())`)
	if err := s.move(ctx, tx, id, domain.StatusScriptReady, domain.StatusAudioProcessing, startQuery, owner); err != nil {
		return err
	}

	finishQuery := transitionQuery(`,
			    audio_key = $4,
			    audio_url = $5,
			    cdn_url = $6,
			    audio_duration = $7,
			    completed_at = NOW(),
			    lease_owner = NULL,
			    lease_until = NULL`, "")
	if err := s.move(ctx, tx, id, domain.StatusAudioProcessing, domain.StatusCompleted, finishQuery,
		audio.Key, audio.URL, audio.CDNURL, audio.DurationSeconds); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audio completion: %w", err)
	}
	metrics.Transitions.WithLabelValues(string(domain.StatusScriptReady), string(domain.StatusAudioProcessing)).Inc()
	metrics.Transitions.WithLabelValues(string(domain.StatusAudioProcessing), string(domain.StatusCompleted)).Inc()

	s.logger.Info("Job completed",
		slog.String("job_id", id),
		slog.String("audio_key", audio.Key),
		slog.Int("duration_seconds", audio.DurationSeconds),
	)
	return nil
}

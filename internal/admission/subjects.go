package admission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Candidate is one subject eligible for a job. Label names the subject in
// titles; for episodes it is the reference entity's title.
type Candidate struct {
	SubjectID string `db:"id"`
	Label     string `db:"label"`
}

// SubjectLister returns the subjects eligible for a job type
type SubjectLister interface {
	Eligible(ctx context.Context, jobType domain.JobType, limit int) ([]Candidate, error)
}

// QuotaChecker resolves a subject's tier and monthly usage
type QuotaChecker interface {
	Check(ctx context.Context, subjectID string, monthStart time.Time) (domain.Quota, error)
}

// QuotaCheckerFunc adapts a function to QuotaChecker
type QuotaCheckerFunc func(ctx context.Context, subjectID string, monthStart time.Time) (domain.Quota, error)

// Check calls f
func (f QuotaCheckerFunc) Check(ctx context.Context, subjectID string, monthStart time.Time) (domain.Quota, error) {
	return f(ctx, subjectID, monthStart)
}

// Directory reads subjects and reference entities from the product database
type Directory struct {
	db        *sqlx.DB
	freeLimit int
}

// NewDirectory creates a Directory. freeLimit is the monthly job limit of the
// free tier.
func NewDirectory(db *sqlx.DB, freeLimit int) *Directory {
	return &Directory{db: db, freeLimit: freeLimit}
}

// Eligible lists briefing subjects for daily and weekly jobs, or the next
// reference entities without a live episode, ordered by ordinal.
func (d *Directory) Eligible(ctx context.Context, jobType domain.JobType, limit int) ([]Candidate, error) {
	var (
		query string
		args  []any
	)

	switch jobType {
	case domain.JobTypeDaily, domain.JobTypeWeekly:
		query = `
			SELECT id, display_name AS label
			FROM subjects
			WHERE email_verified
			  AND onboarded
			  AND briefing_enabled
			ORDER BY id
		`
	case domain.JobTypeEpisode:
		query = `
			SELECT r.id, r.title AS label
			FROM reference_entities r
			WHERE NOT EXISTS (
				SELECT 1 FROM jobs j
				WHERE j.subject_id = r.id
				  AND j.type = $1
				  AND j.status <> $2
			)
			ORDER BY r.ordinal
			LIMIT $3
		`
		args = []any{domain.JobTypeEpisode, domain.StatusFailed, limit}
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}

	var candidates []Candidate
	if err := d.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list %s subjects: %w", jobType, err)
	}
	return candidates, nil
}

// Check reports whether subjectID may get another job this month. Pro
// subjects are unmetered.
func (d *Directory) Check(ctx context.Context, subjectID string, monthStart time.Time) (domain.Quota, error) {
	query := `
		SELECT s.tier,
		       (SELECT COUNT(*) FROM jobs j
		        WHERE j.subject_id = s.id
		          AND j.created_at >= $2
		          AND j.status <> $3) AS current_count
		FROM subjects s
		WHERE s.id = $1
	`

	var row struct {
		Tier         string `db:"tier"`
		CurrentCount int    `db:"current_count"`
	}
	if err := d.db.GetContext(ctx, &row, query, subjectID, monthStart, domain.StatusFailed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Quota{}, fmt.Errorf("subject %s not found", subjectID)
		}
		return domain.Quota{}, fmt.Errorf("failed to check quota: %w", err)
	}

	if row.Tier == domain.TierPro {
		return domain.Quota{Allowed: true, CurrentCount: row.CurrentCount, IsPro: true}, nil
	}
	return domain.Quota{
		Allowed:      row.CurrentCount < d.freeLimit,
		CurrentCount: row.CurrentCount,
		Limit:        d.freeLimit,
	}, nil
}

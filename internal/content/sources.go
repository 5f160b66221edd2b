package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/jmoiron/sqlx"
)

// NewsSource returns interest-matched news published inside a window
type NewsSource interface {
	RecentNews(ctx context.Context, subjectID string, start, end time.Time, limit int) ([]domain.ContentItem, error)
}

// UpdateSource returns updates on the entities a subject tracks
type UpdateSource interface {
	EntityUpdates(ctx context.Context, subjectID string, start, end time.Time, limit int) ([]domain.ContentItem, error)
}

// ReferenceSource returns the static record an episode is built from.
// A missing record is (nil, nil).
type ReferenceSource interface {
	Reference(ctx context.Context, entityID string) (*domain.ContentItem, error)
}

// Sources reads content from the product database
type Sources struct {
	db *sqlx.DB
}

// NewSources creates content sources over db
func NewSources(db *sqlx.DB) *Sources {
	return &Sources{db: db}
}

type newsRow struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Summary     string    `db:"summary"`
	URL         string    `db:"url"`
	Source      string    `db:"source"`
	PublishedAt time.Time `db:"published_at"`
}

// RecentNews returns news whose topics overlap the subject's interests
func (s *Sources) RecentNews(ctx context.Context, subjectID string, start, end time.Time, limit int) ([]domain.ContentItem, error) {
	query := `
		SELECT n.id, n.title, n.summary, n.url, n.source, n.published_at
		FROM news_items n
		JOIN subjects s ON s.id = $1
		WHERE n.topics && s.interests
		  AND n.published_at >= $2
		  AND n.published_at < $3
		ORDER BY n.published_at DESC
		LIMIT $4
	`

	var rows []newsRow
	if err := s.db.SelectContext(ctx, &rows, query, subjectID, start, end, limit); err != nil {
		return nil, fmt.Errorf("failed to query news: %w", err)
	}

	items := make([]domain.ContentItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.ContentItem{
			Kind:       domain.ItemNews,
			ID:         row.ID,
			Title:      row.Title,
			Summary:    row.Summary,
			URL:        row.URL,
			Source:     row.Source,
			OccurredAt: row.PublishedAt,
		})
	}
	return items, nil
}

type updateRow struct {
	ID         string    `db:"id"`
	EntityID   string    `db:"entity_id"`
	Title      string    `db:"title"`
	Summary    string    `db:"summary"`
	Action     string    `db:"action"`
	URL        string    `db:"url"`
	OccurredAt time.Time `db:"occurred_at"`
}

// EntityUpdates returns updates on entities the subject tracks
func (s *Sources) EntityUpdates(ctx context.Context, subjectID string, start, end time.Time, limit int) ([]domain.ContentItem, error) {
	query := `
		SELECT u.id, u.entity_id, u.title, u.summary, u.action, u.url, u.occurred_at
		FROM entity_updates u
		JOIN tracked_entities t ON t.entity_id = u.entity_id
		WHERE t.subject_id = $1
		  AND u.occurred_at >= $2
		  AND u.occurred_at < $3
		ORDER BY u.occurred_at DESC
		LIMIT $4
	`

	var rows []updateRow
	if err := s.db.SelectContext(ctx, &rows, query, subjectID, start, end, limit); err != nil {
		return nil, fmt.Errorf("failed to query entity updates: %w", err)
	}

	items := make([]domain.ContentItem, 0, len(rows))
	for _, row := range rows {
		summary := row.Summary
		if row.Action != "" {
			summary = row.Action + ". " + summary
		}
		items = append(items, domain.ContentItem{
			Kind:       domain.ItemUpdate,
			ID:         row.ID,
			Title:      row.Title,
			Summary:    summary,
			URL:        row.URL,
			Source:     row.EntityID,
			OccurredAt: row.OccurredAt,
		})
	}
	return items, nil
}

type referenceRow struct {
	ID      string `db:"id"`
	Title   string `db:"title"`
	Summary string `db:"summary"`
	Body    string `db:"body"`
	URL     string `db:"url"`
}

// Reference loads one reference entity
func (s *Sources) Reference(ctx context.Context, entityID string) (*domain.ContentItem, error) {
	query := `
		SELECT id, title, summary, body, url
		FROM reference_entities
		WHERE id = $1
	`

	var row referenceRow
	if err := s.db.GetContext(ctx, &row, query, entityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query reference entity: %w", err)
	}

	return &domain.ContentItem{
		Kind:    domain.ItemReference,
		ID:      row.ID,
		Title:   row.Title,
		Summary: row.Summary,
		Body:    row.Body,
		URL:     row.URL,
	}, nil
}

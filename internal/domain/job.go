package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobType distinguishes briefings from episodes
type JobType string

// Job type constants
const (
	JobTypeDaily   JobType = "daily"
	JobTypeWeekly  JobType = "weekly"
	JobTypeEpisode JobType = "episode"
)

// ParseJobType converts a string into a known JobType.
func ParseJobType(value string) (JobType, error) {
	switch t := JobType(strings.ToLower(strings.TrimSpace(value))); t {
	case JobTypeDaily, JobTypeWeekly, JobTypeEpisode:
		return t, nil
	default:
		return "", fmt.Errorf("unknown job type %q", value)
	}
}

// Job is one unit of generation work, persisted in the jobs table
type Job struct {
	ID            string     `db:"id"`
	SubjectID     string     `db:"subject_id"`
	Type          JobType    `db:"type"`
	Status        Status     `db:"status"`
	Title         string     `db:"title"`
	WindowStart   time.Time  `db:"window_start"`
	WindowEnd     time.Time  `db:"window_end"`
	ContentBundle []byte     `db:"content_bundle"`
	Script        *string    `db:"script"`
	Headline      *string    `db:"headline"`
	Description   *string    `db:"description"`
	AudioKey      *string    `db:"audio_key"`
	AudioURL      *string    `db:"audio_url"`
	CDNURL        *string    `db:"cdn_url"`
	AudioDuration *int       `db:"audio_duration"`
	ImageURL      *string    `db:"image_url"`
	ErrorMessage  *string    `db:"error_message"`
	LeaseOwner    *string    `db:"lease_owner"`
	LeaseUntil    *time.Time `db:"lease_until"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	StartedAt     *time.Time `db:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"`

	RequeuedAt       *time.Time `db:"requeued_at"`
	ImageAttempts    int        `db:"image_attempts"`
	ImageAttemptedAt *time.Time `db:"image_attempted_at"`
}

// Bundle decodes the persisted content bundle.
func (j *Job) Bundle() (*Bundle, error) {
	if len(j.ContentBundle) == 0 {
		return nil, fmt.Errorf("job %s has no content bundle", j.ID)
	}
	var bundle Bundle
	if err := json.Unmarshal(j.ContentBundle, &bundle); err != nil {
		return nil, fmt.Errorf("decode content bundle: %w", err)
	}
	return &bundle, nil
}

// ContentItemKind tags where a content item came from
type ContentItemKind string

// Content item kinds
const (
	ItemNews      ContentItemKind = "news"
	ItemUpdate    ContentItemKind = "entity_update"
	ItemReference ContentItemKind = "reference"
)

// ContentItem is one normalized piece of source material
type ContentItem struct {
	Kind       ContentItemKind `json:"kind"`
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Summary    string          `json:"summary,omitempty"`
	Body       string          `json:"body,omitempty"`
	URL        string          `json:"url,omitempty"`
	Source     string          `json:"source,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Bundle is the normalized source material handed to the Script Generator
type Bundle struct {
	JobID       string        `json:"job_id"`
	SubjectID   string        `json:"subject_id"`
	Type        JobType       `json:"type"`
	Title       string        `json:"title"`
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`
	Items       []ContentItem `json:"items"`
}

// Empty reports whether the bundle has nothing to narrate.
func (b *Bundle) Empty() bool {
	return b == nil || len(b.Items) == 0
}

// Script is the validated output of narrative generation
type Script struct {
	Script      string `json:"script"`
	Headline    string `json:"headline"`
	Description string `json:"description"`
}

// Audio describes a stored audio artifact
type Audio struct {
	Key             string
	URL             string
	CDNURL          string
	DurationSeconds int
}

// StringValue dereferences an optional column.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

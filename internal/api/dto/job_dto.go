package dto

import (
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
)

type ListJobsRequest struct {
	SubjectID string `form:"subject_id"`
	Type      string `form:"type"`
	Status    string `form:"status"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string  `json:"job_id"`
	SubjectID     string  `json:"subject_id"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Title         string  `json:"title"`
	WindowStart   string  `json:"window_start"`
	WindowEnd     string  `json:"window_end"`
	Headline      *string `json:"headline,omitempty"`
	Description   *string `json:"description,omitempty"`
	Script        *string `json:"script,omitempty"`
	AudioURL      *string `json:"audio_url,omitempty"`
	CDNURL        *string `json:"cdn_url,omitempty"`
	AudioDuration *int    `json:"audio_duration,omitempty"`
	ImageURL      *string `json:"image_url,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
	StartedAt     *string `json:"started_at,omitempty"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}

type TransitionDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
	At   string `json:"at"`
}

type TransitionsResponse struct {
	JobID       string          `json:"job_id"`
	Transitions []TransitionDTO `json:"transitions"`
}

// FromJob maps a job row to its API shape. The script is only included when
// withScript is set.
func FromJob(job *domain.Job, withScript bool) JobDTO {
	out := JobDTO{
		JobID:         job.ID,
		SubjectID:     job.SubjectID,
		Type:          string(job.Type),
		Status:        string(job.Status),
		Title:         job.Title,
		WindowStart:   formatTime(job.WindowStart),
		WindowEnd:     formatTime(job.WindowEnd),
		Headline:      job.Headline,
		Description:   job.Description,
		AudioURL:      job.AudioURL,
		CDNURL:        job.CDNURL,
		AudioDuration: job.AudioDuration,
		ImageURL:      job.ImageURL,
		ErrorMessage:  job.ErrorMessage,
		CreatedAt:     formatTime(job.CreatedAt),
		UpdatedAt:     formatTime(job.UpdatedAt),
		StartedAt:     formatOptional(job.StartedAt),
		CompletedAt:   formatOptional(job.CompletedAt),
	}
	if withScript {
		out.Script = job.Script
	}
	return out
}

// FromTransition maps one history row
func FromTransition(t domain.Transition) TransitionDTO {
	return TransitionDTO{From: string(t.From), To: string(t.To), At: formatTime(t.At)}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

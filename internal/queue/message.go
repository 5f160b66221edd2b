package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/google/uuid"
)

// ContentType of every message body
const ContentType = "application/json"

// Message asks the Content Assembler to start a job. It carries nothing that
// cannot be rebuilt from the job row.
type Message struct {
	JobID       string `json:"jobId"`
	SubjectID   string `json:"subjectId"`
	Type        string `json:"type"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	RequestedAt int64  `json:"requestedAt"`
}

// Publisher delivers encoded messages to the generation queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// FromJob builds the message for a job row
func FromJob(job *domain.Job, requestedAt time.Time) Message {
	return Message{
		JobID:       job.ID,
		SubjectID:   job.SubjectID,
		Type:        string(job.Type),
		StartDate:   job.WindowStart.UTC().Format(time.RFC3339),
		EndDate:     job.WindowEnd.UTC().Format(time.RFC3339),
		RequestedAt: requestedAt.UnixMilli(),
	}
}

// Encode serializes the message
func (m Message) Encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return body, nil
}

// Decode parses and validates a message body. Every failure wraps
// domain.ErrInvalidMessage so consumers can drop it without requeue.
func Decode(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Validate checks required fields and formats
func (m Message) Validate() error {
	if _, err := uuid.Parse(m.JobID); err != nil {
		return fmt.Errorf("%w: jobId must be a valid UUID", domain.ErrInvalidMessage)
	}
	if m.SubjectID == "" {
		return fmt.Errorf("%w: subjectId is required", domain.ErrInvalidMessage)
	}
	if _, err := domain.ParseJobType(m.Type); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	start, end, err := m.Window()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("%w: endDate before startDate", domain.ErrInvalidMessage)
	}
	return nil
}

// Window returns the parsed content window
func (m Message) Window() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, m.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: startDate: %v", domain.ErrInvalidMessage, err)
	}
	end, err := time.Parse(time.RFC3339, m.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: endDate: %v", domain.ErrInvalidMessage, err)
	}
	return start, end, nil
}

// Publish encodes msg and hands it to p
func Publish(ctx context.Context, p Publisher, msg Message) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	return p.PublishWithRetry(ctx, body, ContentType)
}

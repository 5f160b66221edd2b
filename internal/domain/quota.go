package domain

import "time"

// Tier names stored on subjects
const (
	TierFree = "free"
	TierPro  = "pro"
)

// Quota is the outcome of a monthly quota check
type Quota struct {
	Allowed      bool
	CurrentCount int
	Limit        int
	IsPro        bool
}

// MonthStart returns midnight UTC on the first day of t's calendar month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AdmissionRun is the audit record of one admission run
type AdmissionRun struct {
	ExecutedAt time.Time `db:"executed_at"`
	Processed  int       `db:"processed"`
	Enqueued   int       `db:"enqueued"`
	Skipped    int       `db:"skipped"`
	Errors     int       `db:"errors"`
}

// Transition is one row of a job's status history
type Transition struct {
	JobID string    `db:"job_id"`
	From  Status    `db:"from_status"`
	To    Status    `db:"to_status"`
	At    time.Time `db:"at"`
}

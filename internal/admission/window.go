package admission

import (
	"fmt"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
)

// Window returns the content window of a job admitted at now. Daily windows
// end at the latest UTC midnight and weekly windows at the latest Monday, so
// every run inside the same day or week resolves to the same window_start.
func Window(jobType domain.JobType, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch jobType {
	case domain.JobTypeDaily:
		return today.AddDate(0, 0, -1), today, nil
	case domain.JobTypeWeekly:
		sinceMonday := (int(today.Weekday()) + 6) % 7
		end := today.AddDate(0, 0, -sinceMonday)
		return end.AddDate(0, 0, -7), end, nil
	case domain.JobTypeEpisode:
		return today, today.AddDate(0, 0, 1), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown job type %q", jobType)
	}
}

// Title builds the human-readable title of a job
func Title(jobType domain.JobType, label string, end time.Time) string {
	date := end.UTC().Format("January 2, 2006")
	switch jobType {
	case domain.JobTypeWeekly:
		// the window end is exclusive, so the week ends the day before
		lastDay := end.UTC().Add(-time.Nanosecond).Format("January 2, 2006")
		return "Weekly Briefing: Week ending " + lastDay
	case domain.JobTypeEpisode:
		if label != "" {
			return label
		}
		return "Episode: " + date
	default:
		return "Daily Briefing: " + date
	}
}

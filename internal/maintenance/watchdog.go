package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/metrics"
)

// WatchdogStore is the slice of the Status Store the watchdog needs
type WatchdogStore interface {
	StuckJobs(ctx context.Context, status domain.Status, cutoff time.Time, limit int) ([]domain.Job, error)
	FailStuck(ctx context.Context, id string, status domain.Status, cutoff time.Time, message string) error
}

// Watchdog fails jobs that sat in a non-terminal status longer than allowed
type Watchdog struct {
	store  WatchdogStore
	dwell  config.WatchdogConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewWatchdog creates a watchdog with the configured dwell limits
func NewWatchdog(store WatchdogStore, dwell config.WatchdogConfig, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		store:  store,
		dwell:  dwell,
		logger: logger,
		now:    time.Now,
	}
}

// Sweep fails every stuck job it finds and returns how many it failed. Jobs
// that move on between the select and the update are left alone.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	failed := 0
	for _, status := range domain.NonTerminalStatuses() {
		limit := w.dwell.DwellLimit(string(status))
		cutoff := w.now().Add(-limit)

		jobs, err := w.store.StuckJobs(ctx, status, cutoff, w.dwell.BatchSize)
		if err != nil {
			return failed, fmt.Errorf("select stuck %s jobs: %w", status, err)
		}

		for _, job := range jobs {
			message := fmt.Sprintf("stuck in %s for more than %s", status, limit)
			err := w.store.FailStuck(ctx, job.ID, status, cutoff, message)
			switch {
			case err == nil:
				failed++
				metrics.WatchdogFailures.WithLabelValues(string(status)).Inc()
				w.logger.Warn("Watchdog failed stuck job",
					slog.String("job_id", job.ID),
					slog.String("status", string(status)),
					slog.Time("updated_at", job.UpdatedAt),
				)
			case errors.Is(err, domain.ErrTransitionConflict):
				w.logger.Debug("Stuck job moved before sweep", slog.String("job_id", job.ID))
			default:
				w.logger.Error("Watchdog update failed",
					slog.String("job_id", job.ID),
					slog.String("step", "fail_stuck"),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return failed, nil
}

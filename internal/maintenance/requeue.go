package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/queue"
)

// RequeueStore is the slice of the Status Store the requeuer needs
type RequeueStore interface {
	RequeueCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error)
	MarkRequeued(ctx context.Context, id string) error
}

// Requeuer republishes pending jobs no message seems to reference, and
// processing jobs whose assembly was abandoned. A job is republished at most
// once per threshold. A duplicate message is harmless: the second claim is a
// transition conflict.
type Requeuer struct {
	store     RequeueStore
	publisher queue.Publisher
	after     time.Duration
	batch     int
	logger    *slog.Logger
	now       func() time.Time
}

// NewRequeuer creates a requeuer for jobs idle longer than after
func NewRequeuer(store RequeueStore, publisher queue.Publisher, after time.Duration, batch int, logger *slog.Logger) *Requeuer {
	return &Requeuer{
		store:     store,
		publisher: publisher,
		after:     after,
		batch:     batch,
		logger:    logger,
		now:       time.Now,
	}
}

// Run republishes one batch and returns how many messages were sent
func (r *Requeuer) Run(ctx context.Context) (int, error) {
	now := r.now()
	jobs, err := r.store.RequeueCandidates(ctx, now.Add(-r.after), r.batch)
	if err != nil {
		return 0, fmt.Errorf("select requeue candidates: %w", err)
	}

	sent := 0
	for i := range jobs {
		job := &jobs[i]
		if err := queue.Publish(ctx, r.publisher, queue.FromJob(job, now)); err != nil {
			r.logger.Error("Requeue failed",
				slog.String("job_id", job.ID),
				slog.String("step", "enqueue"),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++
		if err := r.store.MarkRequeued(ctx, job.ID); err != nil {
			r.logger.Warn("Failed to mark job requeued",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		r.logger.Info("Requeued job",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
			slog.Time("updated_at", job.UpdatedAt),
		)
	}
	return sent, nil
}

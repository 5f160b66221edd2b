package content

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/metrics"
	"github.com/cuongbtq/briefcast/internal/queue"
	"github.com/cuongbtq/briefcast/internal/retry"
)

// Stage is the metrics label of the assembler
const Stage = "content"

// Store is the slice of the Status Store the assembler needs
type Store interface {
	ClaimPending(ctx context.Context, id string) (*domain.Job, error)
	ReclaimProcessing(ctx context.Context, id string, cutoff time.Time) (*domain.Job, error)
	SaveContent(ctx context.Context, id string, bundle *domain.Bundle) error
	Fail(ctx context.Context, id string, from domain.Status, message string) error
}

// Config holds the assembler's collaborators
type Config struct {
	Store     Store
	News      NewsSource
	Updates   UpdateSource
	Reference ReferenceSource
	Policy    retry.Policy
	ItemLimit int
	// Reclaim is how long a processing job must sit idle before a new
	// message for it may restart assembly. Zero disables reclaiming.
	Reclaim time.Duration
	Logger  *slog.Logger
}

// Assembler turns a pending job into a content bundle
type Assembler struct {
	store     Store
	news      NewsSource
	updates   UpdateSource
	reference ReferenceSource
	policy    retry.Policy
	itemLimit int
	reclaim   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewAssembler creates an assembler
func NewAssembler(cfg Config) *Assembler {
	return &Assembler{
		store:     cfg.Store,
		news:      cfg.News,
		updates:   cfg.Updates,
		reference: cfg.Reference,
		policy:    cfg.Policy,
		itemLimit: cfg.ItemLimit,
		reclaim:   cfg.Reclaim,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Assemble claims the job named by msg, gathers its content and advances it
// to content_gathered. The returned job carries the bundle. When the sources
// stay unavailable or yield nothing, the job is failed and the error wraps
// domain.ErrJobFailed. Cancellation leaves the job at processing.
func (a *Assembler) Assemble(ctx context.Context, msg queue.Message) (job *domain.Job, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(Stage, start, err) }()

	job, err = a.claim(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrTransitionConflict) || ctx.Err() != nil {
			return nil, err
		}
		// the row is unchanged, so the message can be redelivered
		return nil, domain.NewRetryableError(fmt.Errorf("claim: %w", err))
	}

	logger := a.logger.With(slog.String("job_id", job.ID), slog.String("job_type", string(job.Type)))

	bundle, err := a.resolve(ctx, job)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			logger.Warn("Content assembly interrupted", slog.String("step", "resolve"))
			return nil, fmt.Errorf("resolve: %w", ctx.Err())
		}
		logger.Error("Content sources unavailable",
			slog.String("step", "resolve"),
			slog.String("error", err.Error()),
		)
		return nil, a.fail(ctx, job, fmt.Sprintf("content sources unavailable: %v", err), err)
	}

	if bundle.Empty() {
		logger.Warn("No content for window",
			slog.Time("window_start", job.WindowStart),
			slog.Time("window_end", job.WindowEnd),
		)
		return nil, a.fail(ctx, job, domain.ErrNoContent.Error(), domain.ErrNoContent)
	}

	if err := a.store.SaveContent(ctx, job.ID, bundle); err != nil {
		logger.Error("Failed to save content bundle",
			slog.String("step", "save"),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content bundle: %w", err)
	}
	job.ContentBundle = data
	job.Status = domain.StatusContentGathered

	logger.Info("Content gathered", slog.Int("items", len(bundle.Items)))
	return job, nil
}

// claim takes a pending job, or a processing job left idle longer than the
// reclaim period by an interrupted assembly.
func (a *Assembler) claim(ctx context.Context, id string) (*domain.Job, error) {
	job, err := a.store.ClaimPending(ctx, id)
	if err == nil || a.reclaim <= 0 || !errors.Is(err, domain.ErrTransitionConflict) {
		return job, err
	}

	job, reclaimErr := a.store.ReclaimProcessing(ctx, id, a.now().Add(-a.reclaim))
	if reclaimErr != nil {
		if errors.Is(reclaimErr, domain.ErrTransitionConflict) {
			return nil, err
		}
		return nil, reclaimErr
	}
	a.logger.Info("Restarting interrupted assembly", slog.String("job_id", id))
	return job, nil
}

func (a *Assembler) fail(ctx context.Context, job *domain.Job, message string, cause error) error {
	if err := a.store.Fail(context.WithoutCancel(ctx), job.ID, domain.StatusProcessing, message); err != nil {
		a.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.ID),
			slog.String("step", "fail"),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("%w: %w", domain.ErrJobFailed, cause)
}

func (a *Assembler) resolve(ctx context.Context, job *domain.Job) (*domain.Bundle, error) {
	bundle := &domain.Bundle{
		JobID:       job.ID,
		SubjectID:   job.SubjectID,
		Type:        job.Type,
		Title:       job.Title,
		WindowStart: job.WindowStart,
		WindowEnd:   job.WindowEnd,
	}

	if job.Type == domain.JobTypeEpisode {
		ref, err := retry.Do(ctx, a.policy, a.logger, "reference", func(ctx context.Context) (*domain.ContentItem, error) {
			ref, err := a.reference.Reference(ctx, job.SubjectID)
			return ref, transient(err)
		})
		if err != nil {
			return nil, err
		}
		if ref != nil {
			bundle.Items = []domain.ContentItem{*ref}
		}
		return bundle, nil
	}

	news, err := retry.Do(ctx, a.policy, a.logger, "news", func(ctx context.Context) ([]domain.ContentItem, error) {
		items, err := a.news.RecentNews(ctx, job.SubjectID, job.WindowStart, job.WindowEnd, a.itemLimit)
		return items, transient(err)
	})
	if err != nil {
		return nil, err
	}

	updates, err := retry.Do(ctx, a.policy, a.logger, "entity_updates", func(ctx context.Context) ([]domain.ContentItem, error) {
		items, err := a.updates.EntityUpdates(ctx, job.SubjectID, job.WindowStart, job.WindowEnd, a.itemLimit)
		return items, transient(err)
	})
	if err != nil {
		return nil, err
	}

	bundle.Items = merge(a.itemLimit, updates, news)
	return bundle, nil
}

// transient marks every source failure as retryable, except cancellation
func transient(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewRetryableError(err)
}

// merge dedupes items by kind and id, newest first, capped at limit
func merge(limit int, lists ...[]domain.ContentItem) []domain.ContentItem {
	seen := make(map[string]bool)
	var out []domain.ContentItem
	for _, list := range lists {
		for _, item := range list {
			key := string(item.Kind) + ":" + item.ID
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
	}

	slices.SortStableFunc(out, func(a, b domain.ContentItem) int {
		return cmp.Compare(b.OccurredAt.UnixNano(), a.OccurredAt.UnixNano())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

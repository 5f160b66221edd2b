package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/briefcast/internal/audio"
	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/metrics"
	"github.com/cuongbtq/briefcast/shared/objectstore"
)

// ReconcilerOwner is the lease owner the reconciler completes audio under
const ReconcilerOwner = "reconciler"

// ReconcileStore is the slice of the Status Store the reconciler needs
type ReconcileStore interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	CompleteAudio(ctx context.Context, id, owner string, audio domain.Audio) error
	PatchImage(ctx context.Context, id, url string) error
}

// ObjectStore lists and removes stored artifacts
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]objectstore.Object, error)
	Delete(ctx context.Context, key string) error
	URLFor(key string) objectstore.Location
}

// Report counts what one reconcile pass did
type Report struct {
	Scanned  int
	Relinked int
	Deleted  int
	Errors   int
}

// action is the decision for one object
type action int

const (
	actionKeep action = iota
	actionRelink
	actionDelete
)

// Reconciler closes the gap between stored artifacts and job rows: objects
// whose job never recorded them are relinked, objects no live job points at
// are deleted once they are older than the grace period.
type Reconciler struct {
	store       ReconcileStore
	objects     ObjectStore
	grace       time.Duration
	bitrateKbps int
	logger      *slog.Logger
	now         func() time.Time
}

// NewReconciler creates a reconciler
func NewReconciler(store ReconcileStore, objects ObjectStore, grace time.Duration, bitrateKbps int, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:       store,
		objects:     objects,
		grace:       grace,
		bitrateKbps: bitrateKbps,
		logger:      logger,
		now:         time.Now,
	}
}

// Run reconciles every object under the audio and image prefixes
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var report Report
	for _, prefix := range []string{domain.AudioPrefix, domain.ImagePrefix} {
		objects, err := r.objects.List(ctx, prefix)
		if err != nil {
			return report, fmt.Errorf("list %s: %w", prefix, err)
		}

		for _, obj := range objects {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Scanned++
			r.reconcile(ctx, prefix, obj, &report)
		}
	}

	r.logger.Info("Reconcile finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("relinked", report.Relinked),
		slog.Int("deleted", report.Deleted),
		slog.Int("errors", report.Errors),
	)
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, prefix string, obj objectstore.Object, report *Report) {
	label := strings.TrimSuffix(prefix, "/")
	logger := r.logger.With(slog.String("key", obj.Key))

	fail := func(step string, err error) {
		report.Errors++
		metrics.ReconcileActions.WithLabelValues(label, "error").Inc()
		logger.Error("Reconcile failed", slog.String("step", step), slog.String("error", err.Error()))
	}

	id, err := domain.JobIDFromKey(obj.Key)
	if err != nil {
		fail("parse_key", err)
		return
	}

	job, err := r.store.GetJob(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		fail("get_job", err)
		return
	}

	var decision action
	if prefix == domain.AudioPrefix {
		decision = r.decideAudio(job, obj.Key)
	} else {
		decision = r.decideImage(job, obj.Key)
	}

	switch decision {
	case actionRelink:
		err := r.relink(ctx, prefix, job, obj)
		if errors.Is(err, domain.ErrTransitionConflict) {
			logger.Info("Job moved before relink", slog.String("job_id", id))
			return
		}
		if err != nil {
			fail("relink", err)
			return
		}
		report.Relinked++
		metrics.ReconcileActions.WithLabelValues(label, "relinked").Inc()
		logger.Info("Relinked orphaned object", slog.String("job_id", id))

	case actionDelete:
		if r.now().Sub(obj.LastModified) < r.grace {
			return
		}
		if err := r.objects.Delete(ctx, obj.Key); err != nil {
			fail("delete", err)
			return
		}
		report.Deleted++
		metrics.ReconcileActions.WithLabelValues(label, "deleted").Inc()
		logger.Info("Deleted orphaned object", slog.String("job_id", id))
	}
}

func (r *Reconciler) decideAudio(job *domain.Job, key string) action {
	if job == nil || job.Status == domain.StatusFailed {
		return actionDelete
	}
	if job.AudioKey != nil {
		if *job.AudioKey == key {
			return actionKeep
		}
		return actionDelete
	}
	if !strings.HasPrefix(key, domain.AudioKey(job.SubjectID, job.CreatedAt, job.ID, "")) {
		return actionDelete
	}
	if job.Status == domain.StatusScriptReady {
		return actionRelink
	}
	return actionKeep
}

func (r *Reconciler) decideImage(job *domain.Job, key string) action {
	if job == nil || job.Status == domain.StatusFailed {
		return actionDelete
	}
	if job.ImageURL == nil {
		return actionRelink
	}
	if *job.ImageURL == r.objects.URLFor(key).URL {
		return actionKeep
	}
	return actionDelete
}

func (r *Reconciler) relink(ctx context.Context, prefix string, job *domain.Job, obj objectstore.Object) error {
	loc := r.objects.URLFor(obj.Key)
	if prefix == domain.ImagePrefix {
		return r.store.PatchImage(ctx, job.ID, loc.URL)
	}

	duration, err := strconv.Atoi(obj.Meta(domain.DurationMetaKey))
	if err != nil || duration <= 0 {
		duration = audio.EstimateDuration(int(obj.Size), r.bitrateKbps)
	}
	return r.store.CompleteAudio(ctx, job.ID, ReconcilerOwner, domain.Audio{
		Key:             obj.Key,
		URL:             loc.URL,
		CDNURL:          loc.CDNURL,
		DurationSeconds: duration,
	})
}

package image

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/metrics"
	"github.com/cuongbtq/briefcast/internal/providers/imagegen"
	"github.com/cuongbtq/briefcast/internal/retry"
	"github.com/cuongbtq/briefcast/shared/objectstore"
)

// Stage is the metrics label of the image generator
const Stage = "image"

const (
	defaultExtension = "png"
	maxContextChars  = 400
)

// EligibleStatuses are the statuses far enough along to have a headline
var EligibleStatuses = []domain.Status{
	domain.StatusScriptReady,
	domain.StatusAudioProcessing,
	domain.StatusCompleted,
}

// Painter generates an image for a prompt
type Painter interface {
	Generate(ctx context.Context, prompt string) (imagegen.Result, error)
}

// Store is the slice of the Status Store the image generator needs
type Store interface {
	ImageCandidates(ctx context.Context, statuses []domain.Status, cutoff time.Time, maxAttempts, limit int) ([]domain.Job, error)
	ClaimImageAttempt(ctx context.Context, id string, cutoff time.Time) error
	PatchImage(ctx context.Context, id, url string) error
}

// ObjectStore is where images are written
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (objectstore.Location, error)
}

// Config holds the image generator's collaborators
type Config struct {
	Store     Store
	Painter   Painter
	Objects   ObjectStore
	Policy    retry.Policy
	BatchSize int
	// Cooldown is the wait between attempts for the same job; MaxAttempts
	// caps how many a job gets.
	Cooldown    time.Duration
	MaxAttempts int
	Logger      *slog.Logger
}

// Generator fills in missing cover images. It never touches job status.
type Generator struct {
	store       Store
	painter     Painter
	objects     ObjectStore
	policy      retry.Policy
	batchSize   int
	cooldown    time.Duration
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// NewGenerator creates an image generator
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		store:       cfg.Store,
		painter:     cfg.Painter,
		objects:     cfg.Objects,
		policy:      cfg.Policy,
		batchSize:   cfg.BatchSize,
		cooldown:    cfg.Cooldown,
		maxAttempts: max(cfg.MaxAttempts, 1),
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// RunBatch generates images for up to the batch size of eligible jobs.
// Each job is tried at most once per cooldown, so jobs that keep failing
// give way to the rest. Failures are logged and skipped; it returns how many
// jobs got an image.
func (g *Generator) RunBatch(ctx context.Context) (int, error) {
	cutoff := g.now().Add(-g.cooldown)
	jobs, err := g.store.ImageCandidates(ctx, EligibleStatuses, cutoff, g.maxAttempts, g.batchSize)
	if err != nil {
		return 0, err
	}

	done := 0
	for i := range jobs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := g.store.ClaimImageAttempt(ctx, jobs[i].ID, cutoff); err != nil {
			if !errors.Is(err, domain.ErrTransitionConflict) {
				return done, err
			}
			continue
		}
		if err := g.Process(ctx, &jobs[i]); err != nil {
			g.logger.Warn("Skipping cover image",
				slog.String("job_id", jobs[i].ID),
				slog.Int("attempt", jobs[i].ImageAttempts+1),
				slog.String("error", err.Error()),
			)
			continue
		}
		done++
	}
	return done, nil
}

// Process generates, stores and links the cover image for one job
func (g *Generator) Process(ctx context.Context, job *domain.Job) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(Stage, start, err) }()

	prompt := Context(job)
	if prompt == "" {
		return errors.New("job has no headline or title")
	}

	result, err := retry.Do(ctx, g.policy, g.logger, "image", func(ctx context.Context) (imagegen.Result, error) {
		return g.painter.Generate(ctx, prompt)
	})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	key := domain.ImageKey(job.CreatedAt, job.ID, domain.ExtensionFor(result.MimeType, defaultExtension))
	loc, err := g.objects.Put(ctx, key, result.Data, result.MimeType, nil)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if err := g.store.PatchImage(ctx, job.ID, loc.URL); err != nil {
		if errors.Is(err, domain.ErrTransitionConflict) {
			g.logger.Info("Cover image already set by another run", slog.String("job_id", job.ID))
			return nil
		}
		return fmt.Errorf("patch: %w", err)
	}

	g.logger.Info("Cover image stored",
		slog.String("job_id", job.ID),
		slog.String("image_key", key),
	)
	return nil
}

// Context derives the short text an image is generated from: the headline,
// or the title when there is none, followed by the description.
func Context(job *domain.Job) string {
	subject := strings.TrimSpace(domain.StringValue(job.Headline))
	if subject == "" {
		subject = strings.TrimSpace(job.Title)
	}
	if subject == "" {
		return ""
	}

	parts := []string{"Editorial cover art for: " + subject}
	if desc := strings.TrimSpace(domain.StringValue(job.Description)); desc != "" {
		parts = append(parts, desc)
	}

	text := strings.Join(parts, ". ")
	if runes := []rune(text); len(runes) > maxContextChars {
		text = string(runes[:maxContextChars])
	}
	return text
}

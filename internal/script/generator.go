package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/metrics"
	"github.com/cuongbtq/briefcast/internal/retry"
)

// Stage is the metrics label of the generator
const Stage = "script"

// Narrator turns a system prompt and a rendered bundle into a script
type Narrator interface {
	Generate(ctx context.Context, systemPrompt, bundle string) (domain.Script, error)
}

// Store is the slice of the Status Store the generator needs
type Store interface {
	SaveScript(ctx context.Context, id string, script domain.Script) error
	Fail(ctx context.Context, id string, from domain.Status, message string) error
	ScriptCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error)
}

// Config holds the generator's collaborators
type Config struct {
	Store    Store
	Narrator Narrator
	Policy   retry.Policy
	Prompt   config.PromptConfig
	Logger   *slog.Logger
}

// Generator writes scripts for content_gathered jobs
type Generator struct {
	store    Store
	narrator Narrator
	policy   retry.Policy
	prompt   config.PromptConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewGenerator creates a generator
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		store:    cfg.Store,
		narrator: cfg.Narrator,
		policy:   cfg.Policy,
		prompt:   cfg.Prompt,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Generate writes the script for a content_gathered job and advances it to
// script_ready. Invalid model output fails the job at once; transient
// failures are retried by the shared policy first. Prior script fields are
// overwritten.
func (g *Generator) Generate(ctx context.Context, job *domain.Job) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(Stage, start, err) }()

	logger := g.logger.With(slog.String("job_id", job.ID), slog.String("job_type", string(job.Type)))

	bundle, err := job.Bundle()
	if err != nil {
		logger.Error("Unreadable content bundle", slog.String("step", "bundle"), slog.String("error", err.Error()))
		return g.fail(ctx, job, fmt.Sprintf("unreadable content bundle: %v", err), err)
	}

	prompt := BuildPrompt(bundle, g.prompt)
	script, err := retry.Do(ctx, g.policy, logger, "narrative", func(ctx context.Context) (domain.Script, error) {
		return g.narrator.Generate(ctx, SystemPrompt(job.Type), prompt)
	})
	if err != nil {
		var genErr *domain.GenerationError
		if errors.As(err, &genErr) {
			logger.Error("Narrative output rejected", slog.String("step", "validate"), slog.String("error", err.Error()))
			return g.fail(ctx, job, genErr.Error(), err)
		}
		if ctx.Err() != nil {
			return err
		}
		logger.Error("Narrative generation failed", slog.String("step", "generate"), slog.String("error", err.Error()))
		return g.fail(ctx, job, fmt.Sprintf("narrative generation failed: %v", err), err)
	}

	if err := g.store.SaveScript(ctx, job.ID, script); err != nil {
		logger.Error("Failed to save script", slog.String("step", "save"), slog.String("error", err.Error()))
		return err
	}

	logger.Info("Script ready", slog.String("headline", script.Headline))
	return nil
}

func (g *Generator) fail(ctx context.Context, job *domain.Job, message string, cause error) error {
	if err := g.store.Fail(context.WithoutCancel(ctx), job.ID, domain.StatusContentGathered, message); err != nil {
		g.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.ID),
			slog.String("step", "fail"),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("%w: %w", domain.ErrJobFailed, cause)
}

// RunBatch picks up content_gathered jobs idle for at least idle and writes
// their scripts. It returns how many reached script_ready.
func (g *Generator) RunBatch(ctx context.Context, idle time.Duration, limit int) (int, error) {
	jobs, err := g.store.ScriptCandidates(ctx, g.now().Add(-idle), limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for i := range jobs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		err := g.Generate(ctx, &jobs[i])
		switch {
		case err == nil:
			done++
		case errors.Is(err, domain.ErrTransitionConflict):
			g.logger.Debug("Script already handled elsewhere", slog.String("job_id", jobs[i].ID))
		case errors.Is(err, domain.ErrJobFailed):
			// recorded on the row
		default:
			g.logger.Warn("Script poller left job for next run",
				slog.String("job_id", jobs[i].ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return done, nil
}

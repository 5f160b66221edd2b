package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/metrics"
	"github.com/cuongbtq/briefcast/internal/providers/speech"
	"github.com/cuongbtq/briefcast/internal/retry"
	"github.com/cuongbtq/briefcast/shared/objectstore"
	"golang.org/x/sync/errgroup"
)

// Stage is the metrics label of the synthesizer
const Stage = "audio"

const defaultExtension = "mp3"

// Speech synthesizes dialogue turns
type Speech interface {
	Synthesize(ctx context.Context, turns []domain.Turn, voices map[string]string) (speech.Result, error)
}

// Store is the slice of the Status Store the synthesizer needs
type Store interface {
	ClaimScriptReady(ctx context.Context, owner string, lease time.Duration, limit int) ([]domain.Job, error)
	CompleteAudio(ctx context.Context, id, owner string, audio domain.Audio) error
	ReleaseLease(ctx context.Context, id, owner string) error
	Fail(ctx context.Context, id string, from domain.Status, message string) error
}

// ObjectStore is where audio artifacts are written
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (objectstore.Location, error)
	List(ctx context.Context, prefix string) ([]objectstore.Object, error)
	URLFor(key string) objectstore.Location
}

// Config holds the synthesizer's collaborators
type Config struct {
	Store       Store
	Speech      Speech
	Objects     ObjectStore
	Voices      map[string]string
	Policy      retry.Policy
	Owner       string
	Lease       time.Duration
	BatchSize   int
	BitrateKbps int
	Logger      *slog.Logger
}

// Synthesizer turns script_ready jobs into stored audio
type Synthesizer struct {
	store     Store
	speech    Speech
	objects   ObjectStore
	voices    map[string]string
	policy    retry.Policy
	owner     string
	lease     time.Duration
	batchSize int
	bitrate   int
	logger    *slog.Logger
}

// BatchResult counts the outcomes of one poll
type BatchResult struct {
	Claimed   int
	Completed int
	Failed    int
	Errors    int
}

// NewSynthesizer creates a synthesizer
func NewSynthesizer(cfg Config) *Synthesizer {
	return &Synthesizer{
		store:     cfg.Store,
		speech:    cfg.Speech,
		objects:   cfg.Objects,
		voices:    cfg.Voices,
		policy:    cfg.Policy,
		owner:     cfg.Owner,
		lease:     cfg.Lease,
		batchSize: cfg.BatchSize,
		bitrate:   cfg.BitrateKbps,
		logger:    cfg.Logger,
	}
}

// RunBatch leases a batch of script_ready jobs and processes them concurrently
func (s *Synthesizer) RunBatch(ctx context.Context) (BatchResult, error) {
	jobs, err := s.store.ClaimScriptReady(ctx, s.owner, s.lease, s.batchSize)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Claimed: len(jobs)}
	var mu sync.Mutex
	var g errgroup.Group
	for i := range jobs {
		job := &jobs[i]
		g.Go(func() error {
			err := s.Process(ctx, job)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Completed++
			case errors.Is(err, domain.ErrJobFailed):
				result.Failed++
			default:
				result.Errors++
			}
			return nil
		})
	}
	_ = g.Wait()

	if result.Claimed > 0 {
		s.logger.Info("Audio batch finished",
			slog.Int("claimed", result.Claimed),
			slog.Int("completed", result.Completed),
			slog.Int("failed", result.Failed),
			slog.Int("errors", result.Errors),
		)
	}
	return result, nil
}

// Process synthesizes, stores and links audio for one leased job. An artifact
// already stored under the job's key is linked without synthesizing again.
func (s *Synthesizer) Process(ctx context.Context, job *domain.Job) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(Stage, start, err) }()

	logger := s.logger.With(slog.String("job_id", job.ID))

	if audio, ok := s.existing(ctx, job); ok {
		logger.Info("Linking previously stored audio", slog.String("audio_key", audio.Key))
		return s.complete(ctx, job, audio)
	}

	turns, err := domain.ParseDialogue(domain.StringValue(job.Script))
	if err != nil {
		logger.Error("Script has no dialogue", slog.String("step", "parse"), slog.String("error", err.Error()))
		return s.fail(ctx, job, fmt.Sprintf("unusable script: %v", err), err)
	}

	voices, err := AssignVoices(domain.Speakers(turns), s.voices)
	if err != nil {
		logger.Error("Voice assignment failed", slog.String("step", "voices"), slog.String("error", err.Error()))
		return s.fail(ctx, job, err.Error(), err)
	}

	result, err := retry.Do(ctx, s.policy, logger, "speech", func(ctx context.Context) (speech.Result, error) {
		return s.speech.Synthesize(ctx, turns, voices)
	})
	if err != nil {
		if ctx.Err() != nil {
			s.release(ctx, job)
			return err
		}
		logger.Error("Speech synthesis failed", slog.String("step", "synthesize"), slog.String("error", err.Error()))
		return s.fail(ctx, job, fmt.Sprintf("speech synthesis failed: %v", err), err)
	}

	key := domain.AudioKey(job.SubjectID, job.CreatedAt, job.ID, domain.ExtensionFor(result.MimeType, defaultExtension))
	duration := EstimateDuration(len(result.Audio), s.bitrate)

	loc, err := s.objects.Put(ctx, key, result.Audio, result.MimeType, map[string]string{
		domain.DurationMetaKey: strconv.Itoa(duration),
	})
	if err != nil {
		if ctx.Err() != nil {
			s.release(ctx, job)
			return err
		}
		logger.Error("Audio upload failed", slog.String("step", "upload"), slog.String("error", err.Error()))
		return s.fail(ctx, job, fmt.Sprintf("audio upload failed: %v", err), err)
	}

	return s.complete(ctx, job, domain.Audio{
		Key:             key,
		URL:             loc.URL,
		CDNURL:          loc.CDNURL,
		DurationSeconds: duration,
	})
}

func (s *Synthesizer) complete(ctx context.Context, job *domain.Job, audio domain.Audio) error {
	if err := s.store.CompleteAudio(ctx, job.ID, s.owner, audio); err != nil {
		s.logger.Error("Audio stored but job not updated",
			slog.String("job_id", job.ID),
			slog.String("step", "complete"),
			slog.String("audio_key", audio.Key),
			slog.String("error", err.Error()),
		)
		s.release(ctx, job)
		return err
	}
	return nil
}

// existing finds an artifact stored for job by an earlier attempt
func (s *Synthesizer) existing(ctx context.Context, job *domain.Job) (domain.Audio, bool) {
	prefix := domain.AudioKey(job.SubjectID, job.CreatedAt, job.ID, "")
	objects, err := s.objects.List(ctx, prefix)
	if err != nil {
		s.logger.Warn("Failed to look for stored audio",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return domain.Audio{}, false
	}

	for _, obj := range objects {
		duration, err := strconv.Atoi(obj.Meta(domain.DurationMetaKey))
		if err != nil || duration <= 0 {
			continue
		}
		loc := s.objects.URLFor(obj.Key)
		return domain.Audio{Key: obj.Key, URL: loc.URL, CDNURL: loc.CDNURL, DurationSeconds: duration}, true
	}
	return domain.Audio{}, false
}

func (s *Synthesizer) fail(ctx context.Context, job *domain.Job, message string, cause error) error {
	if err := s.store.Fail(context.WithoutCancel(ctx), job.ID, domain.StatusScriptReady, message); err != nil {
		s.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.ID),
			slog.String("step", "fail"),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("%w: %w", domain.ErrJobFailed, cause)
}

func (s *Synthesizer) release(ctx context.Context, job *domain.Job) {
	if err := s.store.ReleaseLease(context.WithoutCancel(ctx), job.ID, s.owner); err != nil {
		s.logger.Warn("Failed to release lease",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

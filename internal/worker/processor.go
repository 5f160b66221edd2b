package worker

import (
	"context"
	"log/slog"
	"time"
)

// processJob runs the content stage and then the script stage for one message.
// A job that times out during the script stage stays at content_gathered for
// the script poller.
func (w *Worker) processJob(ctx context.Context, jm *jobMessage) error {
	start := time.Now()
	logger := w.logger.With(
		slog.String("job_id", jm.msg.JobID),
		slog.String("type", jm.msg.Type),
		slog.String("worker_id", w.workerID),
	)
	logger.Info("Processing job")

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	job, err := w.assembler.Assemble(jobCtx, jm.msg)
	if err != nil {
		return err
	}
	logger.Info("Content gathered", slog.Int("bundle_bytes", len(job.ContentBundle)))

	if err := w.scripter.Generate(jobCtx, job); err != nil {
		return err
	}

	logger.Info("Script ready", slog.Duration("elapsed", time.Since(start)))
	return nil
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/briefcast/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for {
		select {
		case <-w.stopChan:
			return

		case <-ctx.Done():
			return

		case jm := <-w.jobsChan:
			err := w.processJob(ctx, jm)
			w.settle(workerName, jm, err)
		}
	}
}

// settle acks or nacks the delivery according to the stage outcome
func (w *Worker) settle(workerName string, jm *jobMessage, err error) {
	logger := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("job_id", jm.msg.JobID),
	)

	if shouldAck(err) {
		if err != nil {
			logger.Info("Job settled without success", slog.String("error", err.Error()))
		}
		if ackErr := jm.delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", slog.String("error", ackErr.Error()))
		}
		return
	}

	requeue := shouldRequeueJob(err)
	logger.Error("Job processing failed",
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
	)
	if nackErr := jm.delivery.Nack(false, requeue); nackErr != nil {
		logger.Error("Failed to NACK message", slog.String("error", nackErr.Error()))
	}
}

// shouldAck reports whether the message is done with: the job advanced, was
// failed by its stage, or had already moved on when this delivery arrived.
func shouldAck(err error) bool {
	return err == nil ||
		errors.Is(err, domain.ErrJobFailed) ||
		errors.Is(err, domain.ErrTransitionConflict) ||
		errors.Is(err, context.DeadlineExceeded)
}

// shouldRequeueJob determines if a job should be requeued based on the error
// type. A message interrupted by shutdown goes back to the queue; a job it
// already claimed is restarted once it has sat idle past the reclaim period.
func shouldRequeueJob(err error) bool {
	if errors.Is(err, domain.ErrInvalidMessage) {
		return false
	}
	return errors.Is(err, context.Canceled) || domain.IsRetryable(err)
}

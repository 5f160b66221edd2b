package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Assembler runs the content stage for a queue message
type Assembler interface {
	Assemble(ctx context.Context, msg queue.Message) (*domain.Job, error)
}

// Scripter runs the script stage for an assembled job
type Scripter interface {
	Generate(ctx context.Context, job *domain.Job) error
}

// Consumer hands out deliveries from the generation queue
type Consumer interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Consumer    Consumer
	Assembler   Assembler
	Scripter    Scripter
	WorkerID    string
	QueueName   string
	Concurrency int
	JobTimeout  time.Duration
}

// Worker consumes generation messages and drives each job through the content
// and script stages
type Worker struct {
	logger      *slog.Logger
	consumer    Consumer
	assembler   Assembler
	scripter    Scripter
	workerID    string
	queueName   string
	concurrency int
	jobTimeout  time.Duration
	jobsChan    chan *jobMessage
	wg          sync.WaitGroup
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// jobMessage is a decoded message with the delivery it settles
type jobMessage struct {
	msg      queue.Message
	delivery amqp.Delivery
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := max(cfg.Concurrency, 1)
	return &Worker{
		logger:      cfg.Logger,
		consumer:    cfg.Consumer,
		assembler:   cfg.Assembler,
		scripter:    cfg.Scripter,
		workerID:    cfg.WorkerID,
		queueName:   cfg.QueueName,
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		jobsChan:    make(chan *jobMessage, concurrency),
		stopChan:    make(chan struct{}),
	}
}

// Start consumes until ctx is cancelled or the delivery channel closes
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	if !w.startMessageDispatcher(ctx, deliveries) && ctx.Err() == nil {
		return errors.New("rabbitmq delivery channel closed")
	}
	return nil
}

// Stop waits for in-flight jobs to settle
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

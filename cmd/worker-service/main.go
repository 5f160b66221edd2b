package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/briefcast/internal/bootstrap"
	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/content"
	"github.com/cuongbtq/briefcast/internal/poller"
	"github.com/cuongbtq/briefcast/internal/providers/narrative"
	"github.com/cuongbtq/briefcast/internal/script"
	"github.com/cuongbtq/briefcast/internal/store"
	"github.com/cuongbtq/briefcast/internal/worker"
	"github.com/google/uuid"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", bootstrap.ConfigPath("WORKER_SERVICE_CONFIG_PATH", "worker-service"), "Path to configuration file")
	flag.Parse()

	cfg, err := bootstrap.LoadConfig(*configPath, (*config.Config).ValidateWorkerConfig)
	if err != nil {
		return err
	}

	appLogger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := bootstrap.NewPostgreSQL(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	rabbitClient, err := bootstrap.NewRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootstrap.StartMetrics(ctx, &cfg.Metrics, appLogger.Logger)

	jobStore := store.New(dbClient.GetDB(), appLogger.Logger)
	collab := bootstrap.NewCollaborators(cfg, dbClient, appLogger.Logger)
	sources := content.NewSources(dbClient.GetDB())

	assembler := content.NewAssembler(content.Config{
		Store:     jobStore,
		News:      sources,
		Updates:   sources,
		Reference: sources,
		Policy:    collab.Policy,
		ItemLimit: cfg.Pipeline.Prompt.MaxItems,
		Reclaim:   cfg.Worker.JobTimeout,
		Logger:    appLogger.Logger,
	})

	scripts := script.NewGenerator(script.Config{
		Store:    jobStore,
		Narrator: narrative.NewClient(cfg.Providers.Narrative, narrative.WithLimiter(collab.Limiter)),
		Policy:   collab.Policy,
		Prompt:   cfg.Pipeline.Prompt,
		Logger:   appLogger.Logger,
	})

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:      appLogger.Logger,
		Consumer:    rabbitClient,
		Assembler:   assembler,
		Scripter:    scripts,
		WorkerID:    workerID(cfg.App.Name),
		QueueName:   cfg.RabbitMQ.Queue.Name,
		Concurrency: cfg.Worker.Concurrency,
		JobTimeout:  cfg.Worker.JobTimeout,
	})

	errChan := make(chan error, 2)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// picks up content_gathered jobs whose worker died before writing a script
	scriptLoop := poller.Loop{
		Name:     "script",
		Interval: cfg.Pipeline.Script.Interval,
		Run: func(ctx context.Context) error {
			_, err := scripts.RunBatch(ctx, cfg.Pipeline.Script.Lease, cfg.Pipeline.Script.BatchSize)
			return err
		},
	}
	go func() {
		if err := poller.Run(ctx, appLogger.Logger, scriptLoop); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.String("error", err.Error()),
		)
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit",
			slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
		)
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

func workerID(app string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s-%s", app, host, uuid.NewString()[:8])
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/briefcast/internal/admission"
	"github.com/cuongbtq/briefcast/internal/bootstrap"
	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/maintenance"
	"github.com/cuongbtq/briefcast/internal/poller"
	"github.com/cuongbtq/briefcast/internal/store"
)

// rate windows older than this are never read again
const rateWindowRetention = time.Hour

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", bootstrap.ConfigPath("SCHEDULER_SERVICE_CONFIG_PATH", "scheduler-service"), "Path to configuration file")
	flag.Parse()

	cfg, err := bootstrap.LoadConfig(*configPath, (*config.Config).ValidateSchedulerConfig)
	if err != nil {
		return err
	}

	appLogger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := appLogger.Logger

	logger.Info("Starting scheduler service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := bootstrap.NewPostgreSQL(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := bootstrap.NewRabbitMQ(&cfg.RabbitMQ, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	bootstrap.StartMetrics(ctx, &cfg.Metrics, logger)

	types, err := admission.ParseTypes(cfg.Admission.Types)
	if err != nil {
		return err
	}

	jobStore := store.New(dbClient.GetDB(), logger)
	directory := admission.NewDirectory(dbClient.GetDB(), cfg.Admission.FreeTierLimit)
	collab := bootstrap.NewCollaborators(cfg, dbClient, logger)

	scheduler := admission.NewScheduler(admission.Config{
		Store:        jobStore,
		Subjects:     directory,
		Quota:        directory,
		Publisher:    rabbitClient,
		Types:        types,
		EpisodeBatch: cfg.Admission.EpisodeBatch,
		Logger:       logger.With(slog.String("component", "admission")),
	})
	watchdog := maintenance.NewWatchdog(jobStore, cfg.Pipeline.Watchdog, logger.With(slog.String("component", "watchdog")))
	requeuer := maintenance.NewRequeuer(jobStore, rabbitClient,
		cfg.Pipeline.Reconcile.RequeuePendingAfter, cfg.Pipeline.Reconcile.RequeueBatch,
		logger.With(slog.String("component", "requeue")))

	loops := []poller.Loop{
		{
			Name:       "admission",
			Interval:   cfg.Admission.Interval,
			RunOnStart: cfg.Admission.RunOnStart,
			Run: func(ctx context.Context) error {
				_, err := scheduler.Run(ctx)
				return err
			},
		},
		{
			Name:     "watchdog",
			Interval: cfg.Pipeline.Watchdog.Interval,
			Run: func(ctx context.Context) error {
				_, err := watchdog.Sweep(ctx)
				return err
			},
		},
		{
			Name:     "requeue",
			Interval: cfg.Pipeline.Reconcile.RequeuePendingAfter,
			Run: func(ctx context.Context) error {
				_, err := requeuer.Run(ctx)
				return err
			},
		},
		{
			Name:     "rate_windows",
			Interval: rateWindowRetention,
			Run: func(ctx context.Context) error {
				_, err := collab.Limiter.Prune(ctx, time.Now().Add(-rateWindowRetention))
				return err
			},
		},
	}

	if cfg.Storage.Endpoint != "" {
		objects, err := bootstrap.NewObjectStore(ctx, &cfg.Storage, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize object storage: %w", err)
		}
		reconciler := maintenance.NewReconciler(jobStore, objects,
			cfg.Pipeline.Reconcile.GracePeriod, cfg.Providers.Speech.Bitrate,
			logger.With(slog.String("component", "reconciler")))
		loops = append(loops, poller.Loop{
			Name:     "reconcile",
			Interval: cfg.Pipeline.Reconcile.Interval,
			Run: func(ctx context.Context) error {
				_, err := reconciler.Run(ctx)
				return err
			},
		})
	} else {
		logger.Warn("Storage not configured, reconciler disabled")
	}

	logger.Info("Scheduler service started successfully", slog.Int("loops", len(loops)))

	if err := poller.Run(ctx, logger, loops...); err != nil {
		return err
	}

	logger.Info("Scheduler service shutdown complete")
	return nil
}

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

	"github.com/cuongbtq/briefcast/internal/audio"
	"github.com/cuongbtq/briefcast/internal/bootstrap"
	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/image"
	"github.com/cuongbtq/briefcast/internal/poller"
	"github.com/cuongbtq/briefcast/internal/providers/imagegen"
	"github.com/cuongbtq/briefcast/internal/providers/speech"
	"github.com/cuongbtq/briefcast/internal/store"
	"github.com/google/uuid"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", bootstrap.ConfigPath("MEDIA_SERVICE_CONFIG_PATH", "media-service"), "Path to configuration file")
	flag.Parse()

	cfg, err := bootstrap.LoadConfig(*configPath, (*config.Config).ValidateMediaConfig)
	if err != nil {
		return err
	}

	appLogger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := appLogger.Logger

	logger.Info("Starting media service",
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

	objects, err := bootstrap.NewObjectStore(ctx, &cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	bootstrap.StartMetrics(ctx, &cfg.Metrics, logger)

	jobStore := store.New(dbClient.GetDB(), logger)
	collab := bootstrap.NewCollaborators(cfg, dbClient, logger)

	synthesizer := audio.NewSynthesizer(audio.Config{
		Store:       jobStore,
		Speech:      speech.NewClient(cfg.Providers.Speech, speech.WithLimiter(collab.Limiter)),
		Objects:     objects,
		Voices:      cfg.Providers.Speech.Voices,
		Policy:      collab.Policy,
		Owner:       leaseOwner(cfg.App.Name),
		Lease:       cfg.Pipeline.Audio.Lease,
		BatchSize:   cfg.Pipeline.Audio.BatchSize,
		BitrateKbps: cfg.Providers.Speech.Bitrate,
		Logger:      logger.With(slog.String("component", "audio")),
	})

	images := image.NewGenerator(image.Config{
		Store:       jobStore,
		Painter:     imagegen.NewClient(cfg.Providers.Image, imagegen.WithLimiter(collab.Limiter)),
		Objects:     objects,
		Policy:      collab.Policy,
		BatchSize:   cfg.Pipeline.Image.BatchSize,
		Cooldown:    cfg.Pipeline.Image.Cooldown,
		MaxAttempts: cfg.Pipeline.Image.MaxAttempts,
		Logger:      logger.With(slog.String("component", "image")),
	})

	logger.Info("Media service started successfully")

	err = poller.Run(ctx, logger,
		poller.Loop{
			Name:       "audio",
			Interval:   cfg.Pipeline.Audio.Interval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := synthesizer.RunBatch(ctx)
				return err
			},
		},
		poller.Loop{
			Name:     "image",
			Interval: cfg.Pipeline.Image.Interval,
			Run: func(ctx context.Context) error {
				_, err := images.RunBatch(ctx)
				return err
			},
		},
	)
	if err != nil {
		return err
	}

	logger.Info("Media service shutdown complete")
	return nil
}

// leaseOwner identifies this process on the audio leases it takes
func leaseOwner(app string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "media"
	}
	return fmt.Sprintf("%s-%s-%s", app, host, uuid.NewString()[:8])
}

// Package bootstrap builds the infrastructure clients every briefcast process
// shares from the loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/metrics"
	"github.com/cuongbtq/briefcast/internal/ratelimit"
	"github.com/cuongbtq/briefcast/internal/retry"
	"github.com/cuongbtq/briefcast/shared/logger"
	"github.com/cuongbtq/briefcast/shared/objectstore"
	"github.com/cuongbtq/briefcast/shared/postgresql"
	"github.com/cuongbtq/briefcast/shared/rabbitmq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

// ConfigPath resolves the config file path from envVar, falling back to
// configs/<service>/config.yaml
func ConfigPath(envVar, service string) string {
	if path := os.Getenv(envVar); path != "" {
		return path
	}
	return fmt.Sprintf("configs/%s/config.yaml", service)
}

// LoadConfig loads .env if present, then reads and validates the config file
func LoadConfig(path string, validate func(*config.Config) error) (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if validate != nil {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

// NewLogger initializes the application logger, tagging records with the app name
func NewLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      cfg.App.Name,
	})
}

// NewPostgreSQL initializes the PostgreSQL database client and exposes its pool
// statistics on the default registry
func NewPostgreSQL(cfg *config.Config, logger *slog.Logger) (*postgresql.Client, error) {
	db := &cfg.Database
	client, err := postgresql.NewClient(&postgresql.Config{
		Host:            db.Host,
		Port:            db.Port,
		User:            db.User,
		Password:        db.Password,
		Database:        db.Database,
		SSLMode:         db.SSLMode,
		ApplicationName: cfg.App.Name,
		ConnectTimeout:  db.ConnectTimeout,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		ConnMaxIdleTime: db.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := client.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		logger.Warn("Failed to register database metrics", slog.String("error", err.Error()))
	}
	return client, nil
}

// RabbitMQConfig maps the rabbitmq section onto the client config
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		DeadLetterExchange: cfg.DeadLetter,
	}
}

// NewRabbitMQ initializes the RabbitMQ client
func NewRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
}

// NewObjectStore initializes the S3-compatible storage client
func NewObjectStore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (*objectstore.Client, error) {
	return objectstore.NewClient(ctx, &objectstore.Config{
		Endpoint:      cfg.Endpoint,
		AccessKey:     cfg.AccessKey,
		SecretKey:     cfg.SecretKey,
		Bucket:        cfg.Bucket,
		Region:        cfg.Region,
		UseSSL:        cfg.UseSSL,
		PublicBaseURL: cfg.PublicBaseURL,
		CDNBaseURL:    cfg.CDNBaseURL,
	}, logger)
}

// Collaborators holds what the pipeline stages share inside one process
type Collaborators struct {
	Policy  retry.Policy
	Limiter *ratelimit.Limiter
}

// NewCollaborators builds the retry policy and the shared rate limiter
func NewCollaborators(cfg *config.Config, db *postgresql.Client, logger *slog.Logger) Collaborators {
	return Collaborators{
		Policy:  retry.FromConfig(cfg.Pipeline.Retry),
		Limiter: ratelimit.New(db.GetDB(), cfg.Pipeline.RateLimits, logger),
	}
}

// StartMetrics runs the metrics listener when enabled
func StartMetrics(ctx context.Context, cfg *config.MetricsConfig, logger *slog.Logger) {
	if !cfg.Enabled || cfg.Addr == "" {
		return
	}
	metrics.Serve(ctx, cfg.Addr, logger)
}

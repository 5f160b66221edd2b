package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Admission AdmissionConfig `yaml:"admission"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Storage   StorageConfig   `yaml:"storage"`
	Providers ProvidersConfig `yaml:"providers"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	DeadLetter string           `yaml:"dead_letter_exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AdmissionConfig holds admission scheduler configuration
type AdmissionConfig struct {
	Interval      time.Duration `yaml:"interval"`
	RunOnStart    bool          `yaml:"run_on_start"`
	Types         []string      `yaml:"types"`
	FreeTierLimit int           `yaml:"free_tier_limit"`
	EpisodeBatch  int           `yaml:"episode_batch"`
}

// RetryConfig is the retry policy shared by every stage
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// PollerConfig holds the schedule of an independent poller
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	Lease       time.Duration `yaml:"lease"`
	Cooldown    time.Duration `yaml:"cooldown"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// WatchdogConfig holds max dwell times per non-terminal status
type WatchdogConfig struct {
	Interval        time.Duration            `yaml:"interval"`
	DefaultMaxDwell time.Duration            `yaml:"default_max_dwell"`
	MaxDwell        map[string]time.Duration `yaml:"max_dwell"`
	BatchSize       int                      `yaml:"batch_size"`
}

// ReconcileConfig holds orphan detection settings
type ReconcileConfig struct {
	Interval            time.Duration `yaml:"interval"`
	GracePeriod         time.Duration `yaml:"grace_period"`
	RequeuePendingAfter time.Duration `yaml:"requeue_pending_after"`
	RequeueBatch        int           `yaml:"requeue_batch"`
}

// PromptConfig bounds the size of the narrative prompt
type PromptConfig struct {
	MaxItems     int `yaml:"max_items"`
	MaxItemChars int `yaml:"max_item_chars"`
	MaxChars     int `yaml:"max_chars"`
}

// RateLimitConfig bounds calls to one external capability
type RateLimitConfig struct {
	PerMinute   int `yaml:"per_minute"`
	Concurrency int `yaml:"concurrency"`
}

// PipelineConfig holds stage settings
type PipelineConfig struct {
	Retry      RetryConfig                `yaml:"retry"`
	Audio      PollerConfig               `yaml:"audio"`
	Image      PollerConfig               `yaml:"image"`
	Script     PollerConfig               `yaml:"script"`
	Watchdog   WatchdogConfig             `yaml:"watchdog"`
	Reconcile  ReconcileConfig            `yaml:"reconcile"`
	Prompt     PromptConfig               `yaml:"prompt"`
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits"`
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
	CDNBaseURL    string `yaml:"cdn_base_url"`
}

// ProviderConfig holds one external generation capability
type ProviderConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	Model   string            `yaml:"model"`
	Timeout time.Duration     `yaml:"timeout"`
	Voices  map[string]string `yaml:"voices"`
	Size    string            `yaml:"size"`
	Bitrate int               `yaml:"bitrate_kbps"`
}

// ProvidersConfig groups the generation capabilities
type ProvidersConfig struct {
	Narrative ProviderConfig `yaml:"narrative"`
	Speech    ProviderConfig `yaml:"speech"`
	Image     ProviderConfig `yaml:"image"`
}

// MetricsConfig holds the Prometheus listener configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses the configuration file. ${VAR} references are expanded
// from the environment before parsing so secrets can stay in .env.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// DwellLimit returns the max dwell time for a status, falling back to the default.
func (w WatchdogConfig) DwellLimit(status string) time.Duration {
	if d, ok := w.MaxDwell[status]; ok && d > 0 {
		return d
	}
	return w.DefaultMaxDwell
}

package config

import (
	"fmt"

	"github.com/cuongbtq/briefcast/internal/domain"
)

// Validate checks the infrastructure settings every service shares
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateAPIConfig checks the status API settings
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.Validate()
}

// ValidateWorkerConfig checks the queue consumer settings
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Providers.Narrative.BaseURL == "" {
		return fmt.Errorf("narrative provider base_url is required")
	}

	return nil
}

// ValidateSchedulerConfig checks admission and maintenance settings
func (c *Config) ValidateSchedulerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	for _, t := range c.Admission.Types {
		if _, err := domain.ParseJobType(t); err != nil {
			return fmt.Errorf("invalid admission type: %w", err)
		}
	}

	for status := range c.Pipeline.Watchdog.MaxDwell {
		parsed, err := domain.ParseStatus(status)
		if err != nil {
			return fmt.Errorf("invalid watchdog status: %w", err)
		}
		if parsed.IsTerminal() {
			return fmt.Errorf("watchdog max_dwell for terminal status %q", status)
		}
	}

	return nil
}

// ValidateMediaConfig checks the audio and image poller settings
func (c *Config) ValidateMediaConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	if c.Providers.Speech.BaseURL == "" {
		return fmt.Errorf("speech provider base_url is required")
	}

	if len(c.Providers.Speech.Voices) == 0 {
		return fmt.Errorf("speech provider voices are required")
	}

	if c.Providers.Image.BaseURL == "" {
		return fmt.Errorf("image provider base_url is required")
	}

	return nil
}

package config

import "time"

const (
	defaultFreeTierLimit   = 3
	defaultRetryAttempts   = 3
	defaultImageBatchSize  = 5
	defaultImageAttempts   = 5
	defaultAudioBatchSize  = 3
	defaultScriptBatchSize = 5
)

// applyDefaults fills zero values that have a safe default
func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.JobTimeout <= 0 {
		c.Worker.JobTimeout = 10 * time.Minute
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.RabbitMQ.Consumer.PrefetchCount <= 0 {
		c.RabbitMQ.Consumer.PrefetchCount = c.Worker.Concurrency
	}

	if c.Admission.Interval <= 0 {
		c.Admission.Interval = 24 * time.Hour
	}
	if len(c.Admission.Types) == 0 {
		c.Admission.Types = []string{"daily"}
	}
	if c.Admission.FreeTierLimit <= 0 {
		c.Admission.FreeTierLimit = defaultFreeTierLimit
	}
	if c.Admission.EpisodeBatch <= 0 {
		c.Admission.EpisodeBatch = 1
	}

	retry := &c.Pipeline.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultRetryAttempts
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 500 * time.Millisecond
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = 10 * time.Second
	}
	if retry.Multiplier <= 0 {
		retry.Multiplier = 2
	}

	if c.Pipeline.Audio.Interval <= 0 {
		c.Pipeline.Audio.Interval = 30 * time.Second
	}
	if c.Pipeline.Audio.BatchSize <= 0 {
		c.Pipeline.Audio.BatchSize = defaultAudioBatchSize
	}
	if c.Pipeline.Audio.Lease <= 0 {
		c.Pipeline.Audio.Lease = 10 * time.Minute
	}
	if c.Pipeline.Image.Interval <= 0 {
		c.Pipeline.Image.Interval = 5 * time.Minute
	}
	if c.Pipeline.Image.BatchSize <= 0 {
		c.Pipeline.Image.BatchSize = defaultImageBatchSize
	}
	if c.Pipeline.Image.Cooldown <= 0 {
		c.Pipeline.Image.Cooldown = 30 * time.Minute
	}
	if c.Pipeline.Image.MaxAttempts <= 0 {
		c.Pipeline.Image.MaxAttempts = defaultImageAttempts
	}
	if c.Pipeline.Script.Interval <= 0 {
		c.Pipeline.Script.Interval = time.Minute
	}
	if c.Pipeline.Script.BatchSize <= 0 {
		c.Pipeline.Script.BatchSize = defaultScriptBatchSize
	}
	// content_gathered jobs younger than this still belong to a worker
	if c.Pipeline.Script.Lease <= 0 {
		c.Pipeline.Script.Lease = c.Worker.JobTimeout
	}

	wd := &c.Pipeline.Watchdog
	if wd.Interval <= 0 {
		wd.Interval = 5 * time.Minute
	}
	if wd.DefaultMaxDwell <= 0 {
		wd.DefaultMaxDwell = time.Hour
	}
	if wd.BatchSize <= 0 {
		wd.BatchSize = 100
	}

	rc := &c.Pipeline.Reconcile
	if rc.Interval <= 0 {
		rc.Interval = time.Hour
	}
	if rc.GracePeriod <= 0 {
		rc.GracePeriod = 30 * time.Minute
	}
	if rc.RequeuePendingAfter <= 0 {
		rc.RequeuePendingAfter = 15 * time.Minute
	}
	if rc.RequeueBatch <= 0 {
		rc.RequeueBatch = 50
	}

	prompt := &c.Pipeline.Prompt
	if prompt.MaxItems <= 0 {
		prompt.MaxItems = 20
	}
	if prompt.MaxItemChars <= 0 {
		prompt.MaxItemChars = 1200
	}
	if prompt.MaxChars <= 0 {
		prompt.MaxChars = 24000
	}

	if c.Providers.Speech.Bitrate <= 0 {
		c.Providers.Speech.Bitrate = 128
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9091"
	}
}

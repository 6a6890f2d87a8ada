package sweep

import "time"

// Config controls sweep intervals and batch sizes.
type Config struct {
	RunInterval    time.Duration
	JobTimeout     time.Duration
	RetryBatchSize int
	// PendingTimeout is how long a PENDING ledger claim may sit untouched
	// before the retry job treats the owning worker as dead.
	PendingTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Hour,
		JobTimeout:     5 * time.Minute,
		RetryBatchSize: 100,
		PendingTimeout: 15 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = defaults.RetryBatchSize
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = defaults.PendingTimeout
	}
	return c
}

package worker

import "time"

// Config controls the background dispatch queue.
type Config struct {
	QueueSize  int
	Workers    int
	JobTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:  256,
		Workers:    4,
		JobTimeout: 90 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

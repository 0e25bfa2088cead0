package scheduler

import "time"

// Config controls sweep cadence and batch sizes.
type Config struct {
	RunInterval    time.Duration
	SweepBatchSize int
	JobTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		SweepBatchSize: 500,
		JobTimeout:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = defaults.SweepBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

package scheduler

import "time"

// Config controls sweep cadence and batch size.
type Config struct {
	RunInterval    time.Duration
	SweepBatchSize int
	JobTimeout     time.Duration
	LockTTL        time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    15 * time.Minute,
		SweepBatchSize: 100,
		JobTimeout:     30 * time.Second,
		LockTTL:        time.Minute,
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
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

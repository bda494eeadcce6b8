package scheduler

import (
	"time"

	appconfig "github.com/hostflow/billing/internal/config"
)

type Config struct {
	// RunInterval is how often the sweep runs. Production runs it daily.
	RunInterval time.Duration

	// SubmitBatchSize caps how many past-period draft invoices one sweep
	// iteration picks up.
	SubmitBatchSize int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     24 * time.Hour,
		SubmitBatchSize: 50,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.SubmitBatchSize <= 0 {
		c.SubmitBatchSize = defaults.SubmitBatchSize
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval:     cfg.Scheduler.RunInterval,
		SubmitBatchSize: cfg.Scheduler.SubmitBatchSize,
	}
}

package scheduler

import (
	"time"

	"github.com/smallbiznis/contextswitch/internal/config"
)

// Config controls cron specs, batch sizes and job budgets.
type Config struct {
	Enabled           bool
	RolloverCron      string
	SafetyCron        string
	PruneCron         string
	RolloverBatch     int
	JobTimeout        time.Duration
	LockTTL           time.Duration
	ProcessedEventTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RolloverCron:      "5 0 1 * *",
		SafetyCron:        "17 * * * *",
		PruneCron:         "30 3 * * *",
		RolloverBatch:     200,
		JobTimeout:        5 * time.Minute,
		LockTTL:           10 * time.Minute,
		ProcessedEventTTL: 30 * 24 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:           cfg.Scheduler.Enabled,
		RolloverCron:      cfg.Scheduler.RolloverCron,
		SafetyCron:        cfg.Scheduler.SafetyCron,
		PruneCron:         cfg.Scheduler.PruneCron,
		RolloverBatch:     cfg.Scheduler.RolloverBatch,
		JobTimeout:        cfg.Scheduler.JobTimeout,
		LockTTL:           cfg.RateLimit.SchedulerLockTTL,
		ProcessedEventTTL: cfg.Billing.ProcessedEventTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RolloverCron == "" {
		c.RolloverCron = defaults.RolloverCron
	}
	if c.SafetyCron == "" {
		c.SafetyCron = defaults.SafetyCron
	}
	if c.PruneCron == "" {
		c.PruneCron = defaults.PruneCron
	}
	if c.RolloverBatch <= 0 {
		c.RolloverBatch = defaults.RolloverBatch
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.ProcessedEventTTL <= 0 {
		c.ProcessedEventTTL = defaults.ProcessedEventTTL
	}
	return c
}

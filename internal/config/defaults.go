package config

import (
	"strings"
	"time"
)

// newConfig returns a Config seeded with the loop intervals, so an explicit
// zero from the file or environment is clamped rather than defaulted.
func newConfig() Config {
	var cfg Config
	cfg.Loops.SchedulerInterval.Duration = 10 * time.Second
	cfg.Loops.WorkerPollInterval.Duration = 2 * time.Second
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/promptoncron.db"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}

	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "mock"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.DeepSeekBaseURL == "" {
		cfg.LLM.DeepSeekBaseURL = "https://api.deepseek.com"
	}
	if cfg.LLM.Timeout.Duration <= 0 {
		cfg.LLM.Timeout.Duration = 120 * time.Second
	}

	if cfg.Search.Timeout.Duration <= 0 {
		cfg.Search.Timeout.Duration = 20 * time.Second
	}
	if cfg.Search.MaxResults <= 0 {
		cfg.Search.MaxResults = 5
	}

	if cfg.Loops.SchedulerInterval.Duration < minSchedulerInterval {
		cfg.Loops.SchedulerInterval.Duration = minSchedulerInterval
	}
	if cfg.Loops.WorkerPollInterval.Duration < minWorkerPoll {
		cfg.Loops.WorkerPollInterval.Duration = minWorkerPoll
	}
	if cfg.Loops.MinCronInterval.Duration <= 0 {
		cfg.Loops.MinCronInterval.Duration = 15 * time.Minute
	}
	if cfg.Loops.MinCronInterval.Duration < time.Minute {
		cfg.Loops.MinCronInterval.Duration = time.Minute
	}
	cfg.Loops.StaleRunPolicy = strings.ToLower(cfg.Loops.StaleRunPolicy)
	if cfg.Loops.StaleRunPolicy == "" {
		cfg.Loops.StaleRunPolicy = StaleRunFail
	}

	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8000"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

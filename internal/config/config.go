// Package config loads process settings from an optional TOML file overlaid
// with environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	minSchedulerInterval = 5 * time.Second
	minWorkerPoll        = 1 * time.Second
)

// Stale run policies applied at worker startup.
const (
	StaleRunFail    = "fail"
	StaleRunRequeue = "requeue"
	StaleRunNone    = "none"
)

// Config holds every setting consumed by the api, scheduler and worker.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	LLM      LLMConfig      `toml:"llm"`
	Search   SearchConfig   `toml:"search"`
	Loops    LoopsConfig    `toml:"loops"`
	Webhook  WebhookConfig  `toml:"webhook"`
	API      APIConfig      `toml:"api"`
	Logging  LoggingConfig  `toml:"logging"`
}

type DatabaseConfig struct {
	Path   string `toml:"path"`
	Driver string `toml:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
}

type LLMConfig struct {
	Provider        string   `toml:"provider"` // mock, openai, gemini, deepseek
	Model           string   `toml:"model"`
	OpenAIAPIKey    string   `toml:"openai_api_key"`
	GeminiAPIKey    string   `toml:"gemini_api_key"`
	DeepSeekAPIKey  string   `toml:"deepseek_api_key"`
	DeepSeekBaseURL string   `toml:"deepseek_base_url"`
	Timeout         Duration `toml:"timeout"`
}

type SearchConfig struct {
	TavilyAPIKey string   `toml:"tavily_api_key"`
	Timeout      Duration `toml:"timeout"`
	MaxResults   int      `toml:"max_results"`
}

type LoopsConfig struct {
	SchedulerInterval  Duration `toml:"scheduler_interval"`
	WorkerPollInterval Duration `toml:"worker_poll_interval"`
	MinCronInterval    Duration `toml:"min_cron_interval"`
	StaleRunPolicy     string   `toml:"stale_run_policy"`
}

type WebhookConfig struct {
	DiscordURL string `toml:"discord_url"`
	SlackURL   string `toml:"slack_url"`
}

type APIConfig struct {
	Addr string `toml:"addr"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or console
}

// Duration decodes TOML strings such as "10s" or bare integers as seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// UnmarshalTOML accepts both string and integer TOML values.
func (d *Duration) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		return d.UnmarshalText([]byte(v))
	case int64:
		d.Duration = time.Duration(v) * time.Second
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", data)
	}
}

// Load reads path (if non-empty), overlays the environment and applies
// defaults and floor clamps.
func Load(path string) (*Config, error) {
	cfg := newConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "mock", "openai", "gemini", "deepseek":
	default:
		return fmt.Errorf("invalid llm provider %q (expected: mock, openai, gemini, deepseek)", c.LLM.Provider)
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("invalid database driver %q (expected: sqlite3, sqlite)", c.Database.Driver)
	}
	switch c.Loops.StaleRunPolicy {
	case StaleRunFail, StaleRunRequeue, StaleRunNone:
	default:
		return fmt.Errorf("invalid stale run policy %q (expected: fail, requeue, none)", c.Loops.StaleRunPolicy)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q (expected: json, console)", c.Logging.Format)
	}
	return nil
}

// Secrets returns every configured credential value. Error messages are
// scrubbed of these before they are stored.
func (c *Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.LLM.OpenAIAPIKey, c.LLM.GeminiAPIKey, c.LLM.DeepSeekAPIKey, c.Search.TavilyAPIKey} {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

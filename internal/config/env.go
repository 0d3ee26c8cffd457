package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type lookupFunc func(key string) (string, bool)

// applyEnv overlays environment variables onto cfg. Unset variables leave
// the file value in place.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, unit time.Duration, dst *Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		dst.Duration = time.Duration(n) * unit
		return nil
	}

	str("DATABASE_PATH", &cfg.Database.Path)
	str("DATABASE_DRIVER", &cfg.Database.Driver)

	str("LLM_PROVIDER", &cfg.LLM.Provider)
	str("DEFAULT_LLM_MODEL", &cfg.LLM.Model)
	str("OPENAI_API_KEY", &cfg.LLM.OpenAIAPIKey)
	str("GEMINI_API_KEY", &cfg.LLM.GeminiAPIKey)
	str("DEEPSEEK_API_KEY", &cfg.LLM.DeepSeekAPIKey)
	str("DEEPSEEK_BASE_URL", &cfg.LLM.DeepSeekBaseURL)
	str("TAVILY_API_KEY", &cfg.Search.TavilyAPIKey)

	str("STALE_RUN_POLICY", &cfg.Loops.StaleRunPolicy)
	str("DISCORD_WEBHOOK_URL", &cfg.Webhook.DiscordURL)
	str("SLACK_WEBHOOK_URL", &cfg.Webhook.SlackURL)
	str("API_ADDR", &cfg.API.Addr)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	for _, d := range []struct {
		key  string
		unit time.Duration
		dst  *Duration
	}{
		{"SCHEDULER_INTERVAL", time.Second, &cfg.Loops.SchedulerInterval},
		{"WORKER_POLL_INTERVAL", time.Second, &cfg.Loops.WorkerPollInterval},
		{"MIN_CRON_INTERVAL_MINUTES", time.Minute, &cfg.Loops.MinCronInterval},
		{"LLM_TIMEOUT", time.Second, &cfg.LLM.Timeout},
		{"SEARCH_TIMEOUT", time.Second, &cfg.Search.Timeout},
	} {
		if err := dur(d.key, d.unit, d.dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("SEARCH_MAX_RESULTS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("SEARCH_MAX_RESULTS must be an integer, got %q", v)
		}
		cfg.Search.MaxResults = n
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML file and the environment.
// Environment variables use the AIORCH_ prefix with underscores for nesting
// (AIORCH_SERVER_PORT, AIORCH_PROVIDERS_OPENAI_API_KEY) and take precedence
// over file values, which take precedence over defaults.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file path, used by tests.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("orchestrator")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("AIORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not surface env-only keys through Unmarshal unless
	// the key is known to viper, so bind the secrets explicitly.
	for _, key := range []string{
		"providers.openai.api_key",
		"providers.anthropic.api_key",
		"providers.gemini.api_key",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 120*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.path", "orchestrator.db")

	v.SetDefault("providers.openai.enabled", true)
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.temperature", 0.7)
	v.SetDefault("providers.openai.max_tokens", 2000)
	v.SetDefault("providers.openai.timeout", 30*time.Second)

	v.SetDefault("providers.anthropic.enabled", true)
	v.SetDefault("providers.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("providers.anthropic.temperature", 0.7)
	v.SetDefault("providers.anthropic.max_tokens", 2000)
	v.SetDefault("providers.anthropic.timeout", 30*time.Second)

	v.SetDefault("providers.gemini.enabled", false)
	v.SetDefault("providers.gemini.model", "gemini-2.0-flash")
	v.SetDefault("providers.gemini.temperature", 0.7)
	v.SetDefault("providers.gemini.max_tokens", 2000)
	v.SetDefault("providers.gemini.timeout", 30*time.Second)

	v.SetDefault("chains", map[string][]string{
		"quiz_generation":      {"openai", "anthropic"},
		"lesson_summary":       {"openai", "anthropic"},
		"flashcard_generation": {"openai", "anthropic"},
	})

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown", 60*time.Second)
	v.SetDefault("breaker.cooldown_growth", 2.0)
	v.SetDefault("breaker.max_cooldown", 10*time.Minute)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", 60*time.Second)
	v.SetDefault("retry.jitter", 0.1)
	v.SetDefault("retry.per_attempt_timeout", 30*time.Second)

	v.SetDefault("limits.default.hourly_requests", 10)
	v.SetDefault("limits.default.monthly_requests", 50)
	v.SetDefault("limits.default.monthly_cost_budget", 0.0)

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.min_score", 70)
	v.SetDefault("cache.bands", []map[string]interface{}{
		{"min_score": 80, "ttl": 2 * time.Hour},
		{"min_score": 70, "ttl": 30 * time.Minute},
	})
	v.SetDefault("cache.max_memory_entries", 1024)
	v.SetDefault("cache.purge_interval", 10*time.Minute)
}

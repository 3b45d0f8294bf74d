// Package config loads and validates process configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Log       LogConfig               `mapstructure:"log"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Providers ProvidersConfig         `mapstructure:"providers"`
	Chains    map[string][]string     `mapstructure:"chains"`
	Breaker   BreakerConfig           `mapstructure:"breaker"`
	Retry     RetryConfig             `mapstructure:"retry"`
	Limits    LimitsConfig            `mapstructure:"limits"`
	Cache     CacheConfig             `mapstructure:"cache"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the SQLite file backing the usage ledger and the
// persistent response cache. ":memory:" is accepted for ephemeral runs.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ProviderConfig configures one vendor adapter.
type ProviderConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ProvidersConfig holds all vendor adapter configurations.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `mapstructure:"openai"`
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	Gemini    ProviderConfig `mapstructure:"gemini"`
}

// BreakerConfig configures the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	CooldownGrowth   float64       `mapstructure:"cooldown_growth"`
	MaxCooldown      time.Duration `mapstructure:"max_cooldown"`
}

// RetryConfig configures the per-provider retry policy.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	Multiplier        float64       `mapstructure:"multiplier"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Jitter            float64       `mapstructure:"jitter"`
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout"`
}

// ServiceLimits are admission thresholds for one service type.
type ServiceLimits struct {
	HourlyRequests    int     `mapstructure:"hourly_requests"`
	MonthlyRequests   int     `mapstructure:"monthly_requests"`
	MonthlyCostBudget float64 `mapstructure:"monthly_cost_budget"`
}

// LimitsConfig holds the default admission thresholds plus per-service
// overrides keyed by service type name.
type LimitsConfig struct {
	Default  ServiceLimits            `mapstructure:"default"`
	Services map[string]ServiceLimits `mapstructure:"services"`
}

// TTLBandConfig maps a minimum quality score to a cache lifetime.
type TTLBandConfig struct {
	MinScore int           `mapstructure:"min_score"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// CacheConfig configures the quality-aware response cache.
type CacheConfig struct {
	Backend          string          `mapstructure:"backend"`
	MinScore         int             `mapstructure:"min_score"`
	Bands            []TTLBandConfig `mapstructure:"bands"`
	MaxMemoryEntries int             `mapstructure:"max_memory_entries"`
	PurgeInterval    time.Duration   `mapstructure:"purge_interval"`
}

// knownProviders are the adapter names the chain validator accepts.
var knownProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
}

// Validate checks the configuration for internal consistency. It runs once at
// startup so a broken deployment fails immediately instead of on first
// request.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Cache.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("cache.backend must be \"memory\" or \"sqlite\", got %q", c.Cache.Backend)
	}
	for i := 1; i < len(c.Cache.Bands); i++ {
		if c.Cache.Bands[i].MinScore >= c.Cache.Bands[i-1].MinScore {
			return fmt.Errorf("cache.bands must be sorted by descending min_score")
		}
	}
	for _, band := range c.Cache.Bands {
		if band.TTL <= 0 {
			return fmt.Errorf("cache.bands ttl must be positive")
		}
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker.cooldown must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one fallback chain is required")
	}
	for service, chain := range c.Chains {
		if len(chain) == 0 {
			return fmt.Errorf("chain for service %q is empty", service)
		}
		seen := make(map[string]bool, len(chain))
		for _, name := range chain {
			if !knownProviders[name] {
				return fmt.Errorf("chain for service %q names unknown provider %q", service, name)
			}
			if seen[name] {
				return fmt.Errorf("chain for service %q lists provider %q twice", service, name)
			}
			seen[name] = true
			if !c.providerEnabled(name) {
				return fmt.Errorf("chain for service %q uses disabled provider %q", service, name)
			}
		}
	}

	return nil
}

func (c *Config) providerEnabled(name string) bool {
	switch name {
	case "openai":
		return c.Providers.OpenAI.Enabled
	case "anthropic":
		return c.Providers.Anthropic.Enabled
	case "gemini":
		return c.Providers.Gemini.Enabled
	}
	return false
}

// Package config loads and validates application configuration from
// defaults, an optional YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root application configuration.
type Config struct {
	Log          LogConfig           `koanf:"log"`
	Server       ServerConfig        `koanf:"server"`
	Dispatch     DispatchConfig      `koanf:"dispatch"`
	Notifiers    NotifiersConfig     `koanf:"notifiers"`
	Destinations []DestinationConfig `koanf:"destinations" validate:"dive"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DispatchConfig contains dispatch engine configuration.
type DispatchConfig struct {
	Cooldown  CooldownConfig  `koanf:"cooldown"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Retry     RetryConfig     `koanf:"retry"`
	Batch     BatchConfig     `koanf:"batch"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// CooldownConfig contains dedup cache configuration.
type CooldownConfig struct {
	Period     time.Duration `koanf:"period"`
	MaxEntries int           `koanf:"max_entries" validate:"min=1"`
}

// BreakerConfig contains circuit breaker configuration.
type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold" validate:"min=1"`
	ResetTimeout     time.Duration `koanf:"reset_timeout"`
}

// RetryConfig contains retry executor configuration.
type RetryConfig struct {
	MaxRetries        int           `koanf:"max_retries" validate:"min=0,max=10"`
	InitialDelay      time.Duration `koanf:"initial_delay"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier" validate:"min=1"`
	MaxDelay          time.Duration `koanf:"max_delay"`
	Jitter            time.Duration `koanf:"jitter"`
	AttemptTimeout    time.Duration `koanf:"attempt_timeout"`
}

// BatchConfig contains batch aggregator configuration.
type BatchConfig struct {
	Size    int           `koanf:"size" validate:"min=1"`
	Timeout time.Duration `koanf:"timeout"`
}

// RateLimitConfig bounds task launches per destination.
type RateLimitConfig struct {
	PerKeyRate  float64 `koanf:"per_key_rate" validate:"min=0"`
	PerKeyBurst int     `koanf:"per_key_burst" validate:"min=0"`
}

// NotifiersConfig contains per-sender-type configuration.
type NotifiersConfig struct {
	Webhook  WebhookNotifierConfig  `koanf:"webhook"`
	Discord  DiscordNotifierConfig  `koanf:"discord"`
	Telegram TelegramNotifierConfig `koanf:"telegram"`
}

// WebhookNotifierConfig configures the generic webhook sender.
type WebhookNotifierConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// DiscordNotifierConfig configures the Discord sender.
type DiscordNotifierConfig struct {
	Username string        `koanf:"username"`
	Timeout  time.Duration `koanf:"timeout"`
}

// TelegramNotifierConfig configures the Telegram sender.
type TelegramNotifierConfig struct {
	Enabled   bool    `koanf:"enabled"`
	BotToken  string  `koanf:"bot_token"`
	RateLimit float64 `koanf:"rate_limit"`
}

// DestinationConfig declares one delivery destination.
type DestinationConfig struct {
	Key    string `koanf:"key" validate:"required"`
	Type   string `koanf:"type" validate:"required,oneof=webhook discord telegram"`
	Target string `koanf:"target" validate:"required"`
	Batch  bool   `koanf:"batch"`
}

// envPrefix is the prefix for environment variable overrides. A double
// underscore separates nesting levels, e.g. HOOKLINE_SERVER__PORT.
const envPrefix = "HOOKLINE_"

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log.level":  "info",
		"log.format": "json",

		"server.host":                "0.0.0.0",
		"server.port":                "8080",
		"server.metrics_port":        "9090",
		"server.read_timeout":        10 * time.Second,
		"server.read_header_timeout": 5 * time.Second,
		"server.write_timeout":       30 * time.Second,
		"server.idle_timeout":        120 * time.Second,
		"server.shutdown_timeout":    30 * time.Second,

		"dispatch.cooldown.period":      5 * time.Minute,
		"dispatch.cooldown.max_entries": 1000,

		"dispatch.breaker.failure_threshold": 5,
		"dispatch.breaker.reset_timeout":     60 * time.Second,

		"dispatch.retry.max_retries":        3,
		"dispatch.retry.initial_delay":      1 * time.Second,
		"dispatch.retry.backoff_multiplier": 2.0,
		"dispatch.retry.max_delay":          30 * time.Second,
		"dispatch.retry.jitter":             100 * time.Millisecond,
		"dispatch.retry.attempt_timeout":    15 * time.Second,

		"dispatch.batch.size":    10,
		"dispatch.batch.timeout": 5 * time.Second,

		"dispatch.rate_limit.per_key_rate":  0.0,
		"dispatch.rate_limit.per_key_burst": 1,

		"notifiers.webhook.timeout":     10 * time.Second,
		"notifiers.discord.timeout":     10 * time.Second,
		"notifiers.telegram.enabled":    false,
		"notifiers.telegram.rate_limit": 25.0,
	}
}

// Load reads configuration with priority: environment variables > config
// file > defaults. path may be empty or point to a missing file; both mean
// "no file".
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// envTransform converts environment variable names to config keys.
// Example: HOOKLINE_DISPATCH__BREAKER__FAILURE_THRESHOLD ->
// dispatch.breaker.failure_threshold.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

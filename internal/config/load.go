package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all configuration environment variables,
// e.g. INSURANCE_AI_DATABASE_URL.
const EnvPrefix = "INSURANCE_AI"

// DefaultEventTypes are the event types consumed by the default listener.
var DefaultEventTypes = []string{
	"underwriting.completed",
	"claims.flagged",
	"actuarial.benchmarked",
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like Load but reads the given config file instead of
// searching the default locations. An empty path searches for config.yaml
// in the working directory and /etc/insurance-ai.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/insurance-ai")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the struct tags on cfg.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// setDefaults registers every key with a default so AutomaticEnv can
// override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.source", "system")
	v.SetDefault("server.submit_rate_per_second", 0)
	v.SetDefault("server.submit_burst", 10)

	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_minutes", 5)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("stream.transport", "redis")
	v.SetDefault("stream.redis_url", "redis://localhost:6379/0")
	v.SetDefault("stream.namespace", "insurance_ai")

	v.SetDefault("task.queue", "memory")
	v.SetDefault("task.worker_count", 2)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.stuck_task_age_minutes", 30)
	v.SetDefault("task.stuck_check_interval_seconds", 300)
	v.SetDefault("task.publish_max_retries", 3)
	v.SetDefault("task.time_limit_seconds", 600)
	v.SetDefault("task.consumer", "")

	v.SetDefault("listener.enabled", true)
	v.SetDefault("listener.event_types", DefaultEventTypes)
	v.SetDefault("listener.group", "insurance_ai_event_listeners")
	v.SetDefault("listener.consumer", "")
	v.SetDefault("listener.batch_size", 10)
	v.SetDefault("listener.block_millis", 1000)
	v.SetDefault("listener.visibility_timeout_seconds", 30)
	v.SetDefault("listener.claim_interval_seconds", 5)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.schedule", "@daily")
	v.SetDefault("sweeper.retention_days", 30)

	v.SetDefault("llm.provider", "static")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)
}

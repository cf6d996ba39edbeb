package config

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Stream   StreamConfig   `mapstructure:"stream" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
	Listener ListenerConfig `mapstructure:"listener"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

// ServerConfig defines HTTP server and logging settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// Source is stamped on every published event envelope.
	Source string `mapstructure:"source" validate:"required"`
	// SubmitRatePerSecond limits task submissions per institution. Zero disables the limit.
	SubmitRatePerSecond float64 `mapstructure:"submit_rate_per_second" validate:"gte=0"`
	SubmitBurst         int     `mapstructure:"submit_burst" validate:"gte=0"`
}

// DatabaseConfig defines the relational store connection.
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver" validate:"required,oneof=pgx sqlite3"`
	URL             string `mapstructure:"url" validate:"required"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_minutes" validate:"gte=0"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// StreamConfig selects the stream transport used for events and the shared task queue.
type StreamConfig struct {
	Transport string `mapstructure:"transport" validate:"required,oneof=redis memory"`
	RedisURL  string `mapstructure:"redis_url" validate:"required_if=Transport redis"`
	Namespace string `mapstructure:"namespace" validate:"required"`
}

// TaskConfig defines task runner behavior.
type TaskConfig struct {
	// Queue is "memory" for an in-process channel or "stream" for the shared stream queue.
	Queue                  string `mapstructure:"queue" validate:"required,oneof=memory stream"`
	WorkerCount            int    `mapstructure:"worker_count" validate:"required,gt=0"`
	QueueSize              int    `mapstructure:"queue_size" validate:"required,gt=0"`
	StuckTaskAgeMinutes    int    `mapstructure:"stuck_task_age_minutes" validate:"required,gt=0"`
	StuckCheckIntervalSecs int    `mapstructure:"stuck_check_interval_seconds" validate:"required,gt=0"`
	PublishMaxRetries      int    `mapstructure:"publish_max_retries" validate:"gte=0"`
	TimeLimitSeconds       int    `mapstructure:"time_limit_seconds" validate:"gte=0"`
	Consumer               string `mapstructure:"consumer"`
}

// ListenerConfig defines the event listener consumer identity and polling.
type ListenerConfig struct {
	Enabled                  bool     `mapstructure:"enabled"`
	EventTypes               []string `mapstructure:"event_types" validate:"required_if=Enabled true,dive,required"`
	Group                    string   `mapstructure:"group" validate:"required_if=Enabled true"`
	Consumer                 string   `mapstructure:"consumer"`
	BatchSize                int      `mapstructure:"batch_size" validate:"gte=0"`
	BlockMillis              int      `mapstructure:"block_millis" validate:"gte=0"`
	VisibilityTimeoutSeconds int      `mapstructure:"visibility_timeout_seconds" validate:"gte=0"`
	ClaimIntervalSeconds     int      `mapstructure:"claim_interval_seconds" validate:"gte=0"`
}

// SweeperConfig defines the retention sweeper schedule.
type SweeperConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Schedule      string `mapstructure:"schedule" validate:"required_if=Enabled true"`
	RetentionDays int    `mapstructure:"retention_days" validate:"gte=0"`
}

// LLMConfig selects the analysis provider used by domain work functions.
type LLMConfig struct {
	Provider          string `mapstructure:"provider" validate:"omitempty,oneof=gemini static"`
	GeminiAPIKey      string `mapstructure:"gemini_api_key" validate:"required_if=Provider gemini"`
	ModelName         string `mapstructure:"model_name"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}

package models

// Config holds the application configuration
type Config struct {
	Relay    RelayConfig    `json:"relay"`
	Telegram TelegramConfig `json:"telegram"`
	Database DatabaseConfig `json:"database"`
	Retry    RetryConfig    `json:"retry"`
	Server   ServerConfig   `json:"server"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// RelayConfig holds the forwarding pipeline settings.
type RelayConfig struct {
	SourceChat      string   `json:"source_chat"`
	DestinationChat string   `json:"destination_chat"`
	Keywords        []string `json:"keywords"`
	ForwardMedia    bool     `json:"forward_media"`
	DelaySeconds    int      `json:"delay_seconds"`
	MaxRetries      int      `json:"max_retries"`
	QueueSize       int      `json:"queue_size"`
	Workers         int      `json:"workers"`
	DrainGraceSec   int      `json:"drain_grace_sec"`
}

// TelegramConfig holds Bot API transport settings.
type TelegramConfig struct {
	APIBaseURL     string `json:"api_base_url"`
	BotToken       string `json:"bot_token"`
	PollTimeoutSec int    `json:"poll_timeout_sec"`
	HTTPTimeoutSec int    `json:"http_timeout_sec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// ServerConfig holds status API server settings.
type ServerConfig struct {
	Port            int `json:"port"`
	LivePushSec     int `json:"live_push_sec"`
	ShutdownTimeSec int `json:"shutdown_time_sec"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

// Package config loads and validates the relay configuration: a JSON file
// with environment overrides, so deployments can keep secrets out of the
// file entirely.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"telerelay/internal/models"
)

var (
	ErrMissingSource      = models.ConfigError{Message: "missing source chat"}
	ErrMissingDestination = models.ConfigError{Message: "missing destination chat"}
	ErrMissingBotToken    = models.ConfigError{Message: "missing Telegram bot token (set TELEGRAM_BOT_TOKEN)"}
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
)

const (
	defaultDelaySeconds    = 2
	defaultMaxRetries      = 3
	defaultQueueSize       = 100
	defaultWorkers         = 1
	defaultDrainGraceSec   = 20
	defaultPollTimeoutSec  = 30
	defaultHTTPTimeoutSec  = 40
	defaultPort            = 8080
	defaultLivePushSec     = 2
	defaultShutdownTimeSec = 10
	defaultInitialBackoff  = 500
	defaultMaxBackoff      = 30000
	defaultRetryAttempts   = 5
	defaultRetentionDays   = 30
)

// Load reads the JSON config at path, applies environment overrides, fills
// defaults, and validates. Missing required settings are fatal: the relay
// refuses to start in an undefined configuration.
func Load(path string) (*models.Config, error) {
	file, err := os.ReadFile(path) // #nosec G304 - config path comes from the operator's flag
	if err != nil {
		return nil, err
	}

	var cfg models.Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_API_URL"); v != "" {
		c.Telegram.APIBaseURL = v
	}
	if v := os.Getenv("SOURCE_CHAT"); v != "" {
		c.Relay.SourceChat = v
	}
	if v := os.Getenv("DESTINATION_CHAT"); v != "" {
		c.Relay.DestinationChat = v
	}
	if v := os.Getenv("KEYWORDS"); v != "" {
		c.Relay.Keywords = parseKeywords(v)
	}
	if v := os.Getenv("FORWARD_MEDIA"); v != "" {
		c.Relay.ForwardMedia = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Relay.DelaySeconds = n
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Relay.MaxRetries = n
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.Port = n
		}
	}
}

func applyDefaults(c *models.Config) {
	if c.Relay.DelaySeconds <= 0 {
		c.Relay.DelaySeconds = defaultDelaySeconds
	}
	if c.Relay.MaxRetries <= 0 {
		c.Relay.MaxRetries = defaultMaxRetries
	}
	if c.Relay.QueueSize <= 0 {
		c.Relay.QueueSize = defaultQueueSize
	}
	if c.Relay.Workers <= 0 {
		c.Relay.Workers = defaultWorkers
	}
	if c.Relay.DrainGraceSec <= 0 {
		c.Relay.DrainGraceSec = defaultDrainGraceSec
	}
	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Telegram.PollTimeoutSec <= 0 {
		c.Telegram.PollTimeoutSec = defaultPollTimeoutSec
	}
	if c.Telegram.HTTPTimeoutSec <= c.Telegram.PollTimeoutSec {
		// The HTTP client must outlive a full long-poll cycle.
		c.Telegram.HTTPTimeoutSec = c.Telegram.PollTimeoutSec + 10
	}
	if c.Telegram.HTTPTimeoutSec <= 0 {
		c.Telegram.HTTPTimeoutSec = defaultHTTPTimeoutSec
	}
	if c.Database.RetentionDays <= 0 {
		c.Database.RetentionDays = defaultRetentionDays
	}
	if c.Server.Port <= 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.LivePushSec <= 0 {
		c.Server.LivePushSec = defaultLivePushSec
	}
	if c.Server.ShutdownTimeSec <= 0 {
		c.Server.ShutdownTimeSec = defaultShutdownTimeSec
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = defaultInitialBackoff
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = defaultMaxBackoff
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaultRetryAttempts
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "telerelay"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 0.1
	}
}

func validate(c *models.Config) error {
	if c.Relay.SourceChat == "" {
		return ErrMissingSource
	}
	if c.Relay.DestinationChat == "" {
		return ErrMissingDestination
	}
	if c.Telegram.BotToken == "" {
		return ErrMissingBotToken
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	return nil
}

func parseKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			keywords = append(keywords, p)
		}
	}
	return keywords
}

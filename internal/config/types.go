package config

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultRetryAttempts        = 3
	DefaultRetryDelayMS         = 1000
	DefaultTimeoutMS            = 10000
	DefaultSimilarityThreshold  = 0.8
	DefaultTaskMaxAgeMS         = 24 * 60 * 60 * 1000
	DefaultReconnectIntervalMS  = 5000
	DefaultMaxReconnectAttempts = 10
	DefaultServerHost           = "127.0.0.1"
	DefaultServerPort           = 8790
)

// WebhookConfig controls result delivery to the external webhook endpoint.
// Invalid values block delivery, not construction.
type WebhookConfig struct {
	Enabled       bool              `json:"enabled" mapstructure:"enabled"`
	URL           string            `json:"url" mapstructure:"url"`
	AuthToken     string            `json:"auth_token,omitempty" mapstructure:"auth_token"`
	RetryAttempts int               `json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelayMS  int               `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	TimeoutMS     int               `json:"timeout_ms" mapstructure:"timeout_ms"`
	Headers       map[string]string `json:"headers,omitempty" mapstructure:"headers"`
}

// TaskReuseConfig controls similarity-based reuse of completed tasks.
type TaskReuseConfig struct {
	Enabled             bool    `json:"enabled" mapstructure:"enabled"`
	SimilarityThreshold float64 `json:"similarity_threshold" mapstructure:"similarity_threshold"`
	MaxAgeMS            int64   `json:"max_age_ms" mapstructure:"max_age_ms"`
}

// CoordinatorConfig holds the socket connection settings for the remote
// task coordinator.
type CoordinatorConfig struct {
	URL                  string `json:"url" mapstructure:"url"`
	UserID               string `json:"user_id" mapstructure:"user_id"`
	AuthToken            string `json:"auth_token,omitempty" mapstructure:"auth_token"`
	ReconnectIntervalMS  int    `json:"reconnect_interval_ms" mapstructure:"reconnect_interval_ms"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts" mapstructure:"max_reconnect_attempts"`
}

// ServerConfig holds the local HTTP API bind settings.
type ServerConfig struct {
	Host       string `json:"host" mapstructure:"host"`
	Port       int    `json:"port" mapstructure:"port"`
	EnableCORS bool   `json:"enable_cors" mapstructure:"enable_cors"`
}

// Config is the single persisted configuration document. Readers always see
// it merged against defaults so unknown or missing fields never crash them.
type Config struct {
	Webhook     WebhookConfig     `json:"webhook" mapstructure:"webhook"`
	TaskReuse   TaskReuseConfig   `json:"task_reuse" mapstructure:"task_reuse"`
	Coordinator CoordinatorConfig `json:"coordinator" mapstructure:"coordinator"`
	Server      ServerConfig      `json:"server" mapstructure:"server"`
	Debug       bool              `json:"debug" mapstructure:"debug"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Webhook: WebhookConfig{
			Enabled:       true,
			URL:           "",
			RetryAttempts: DefaultRetryAttempts,
			RetryDelayMS:  DefaultRetryDelayMS,
			TimeoutMS:     DefaultTimeoutMS,
			Headers:       map[string]string{},
		},
		TaskReuse: TaskReuseConfig{
			Enabled:             true,
			SimilarityThreshold: DefaultSimilarityThreshold,
			MaxAgeMS:            DefaultTaskMaxAgeMS,
		},
		Coordinator: CoordinatorConfig{
			ReconnectIntervalMS:  DefaultReconnectIntervalMS,
			MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		},
		Server: ServerConfig{
			Host:       DefaultServerHost,
			Port:       DefaultServerPort,
			EnableCORS: true,
		},
	}
}

// ValidationErrors carries field-level validation failures. The operation
// that triggered validation is blocked; nothing is partially applied.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return "invalid configuration: " + strings.Join(v, "; ")
}

// Validate checks the webhook section. A disabled webhook is always valid,
// and an enabled one with an empty URL just means delivery is not configured
// yet; the dispatcher refuses to send in that state.
func (c WebhookConfig) Validate() ValidationErrors {
	var errs ValidationErrors
	if !c.Enabled {
		return nil
	}
	if trimmed := strings.TrimSpace(c.URL); trimmed != "" {
		if u, err := url.Parse(trimmed); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "webhook URL is not a valid URL")
		}
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		errs = append(errs, "retry attempts must be between 1 and 10")
	}
	if c.RetryDelayMS < 100 || c.RetryDelayMS > 10000 {
		errs = append(errs, "retry delay must be between 100ms and 10000ms")
	}
	if c.TimeoutMS < 1000 || c.TimeoutMS > 60000 {
		errs = append(errs, "timeout must be between 1000ms and 60000ms")
	}
	return errs
}

// Validate checks the task reuse section.
func (c TaskReuseConfig) Validate() ValidationErrors {
	var errs ValidationErrors
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, "similarity threshold must be between 0 and 1")
	}
	if c.MaxAgeMS < 0 {
		errs = append(errs, "task max age must not be negative")
	}
	return errs
}

// Validate checks the whole document.
func (c Config) Validate() ValidationErrors {
	var errs ValidationErrors
	errs = append(errs, c.Webhook.Validate()...)
	errs = append(errs, c.TaskReuse.Validate()...)
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server port %d is out of range", c.Server.Port))
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// mergeDefaults fills zero-valued numeric fields from defaults so a sparse
// stored document never produces unusable settings.
func (c *Config) mergeDefaults() {
	def := Default()
	if c.Webhook.RetryAttempts == 0 {
		c.Webhook.RetryAttempts = def.Webhook.RetryAttempts
	}
	if c.Webhook.RetryDelayMS == 0 {
		c.Webhook.RetryDelayMS = def.Webhook.RetryDelayMS
	}
	if c.Webhook.TimeoutMS == 0 {
		c.Webhook.TimeoutMS = def.Webhook.TimeoutMS
	}
	if c.Webhook.Headers == nil {
		c.Webhook.Headers = map[string]string{}
	}
	if c.TaskReuse.SimilarityThreshold == 0 {
		c.TaskReuse.SimilarityThreshold = def.TaskReuse.SimilarityThreshold
	}
	if c.TaskReuse.MaxAgeMS == 0 {
		c.TaskReuse.MaxAgeMS = def.TaskReuse.MaxAgeMS
	}
	if c.Coordinator.ReconnectIntervalMS == 0 {
		c.Coordinator.ReconnectIntervalMS = def.Coordinator.ReconnectIntervalMS
	}
	if c.Coordinator.MaxReconnectAttempts == 0 {
		c.Coordinator.MaxReconnectAttempts = def.Coordinator.MaxReconnectAttempts
	}
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/graph8-com/g8browser/internal/utils"
)

// Manager owns the persisted configuration document. Reads are always served
// merged against defaults; writes validate first and never partially apply.
type Manager struct {
	mu     sync.RWMutex
	path   string
	cfg    Config
	logger *utils.Logger
}

// DefaultPath returns the standard config location (~/.g8agent/config.json).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".g8agent", "config.json")
}

// NewManager loads the configuration from path, falling back to defaults when
// the file is absent or unreadable.
func NewManager(path string) *Manager {
	m := &Manager{
		path:   path,
		cfg:    Default(),
		logger: utils.NewComponentLogger("ConfigManager"),
	}
	if err := m.load(); err != nil {
		m.logger.Warn("Falling back to default configuration: %v", err)
	}
	return m
}

// envKeys enumerates every configuration key so overrides like
// G8AGENT_WEBHOOK_URL resolve even when the key is absent from the file.
var envKeys = []string{
	"webhook.enabled",
	"webhook.url",
	"webhook.auth_token",
	"webhook.retry_attempts",
	"webhook.retry_delay_ms",
	"webhook.timeout_ms",
	"task_reuse.enabled",
	"task_reuse.similarity_threshold",
	"task_reuse.max_age_ms",
	"coordinator.url",
	"coordinator.user_id",
	"coordinator.auth_token",
	"coordinator.reconnect_interval_ms",
	"coordinator.max_reconnect_attempts",
	"server.host",
	"server.port",
	"server.enable_cors",
	"debug",
}

func (m *Manager) load() error {
	v := viper.New()
	v.SetConfigFile(m.path)
	v.SetConfigType("json")
	v.SetEnvPrefix("G8AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	// A missing file is fine, env overrides still apply.
	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !os.IsNotExist(err) && !notFound {
			return fmt.Errorf("read config %s: %w", m.path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", m.path, err)
	}
	cfg.mergeDefaults()

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.cfg
	return cfg
}

// Webhook returns the webhook section.
func (m *Manager) Webhook() WebhookConfig {
	return m.Get().Webhook
}

// TaskReuse returns the task reuse section.
func (m *Manager) TaskReuse() TaskReuseConfig {
	return m.Get().TaskReuse
}

// Coordinator returns the coordinator section.
func (m *Manager) Coordinator() CoordinatorConfig {
	return m.Get().Coordinator
}

// Set validates and persists a full configuration document.
func (m *Manager) Set(cfg Config) error {
	cfg.mergeDefaults()
	if errs := cfg.Validate(); errs != nil {
		return errs
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	return m.persist(cfg)
}

// SetWebhook validates and persists just the webhook section.
func (m *Manager) SetWebhook(webhook WebhookConfig) error {
	cfg := m.Get()
	cfg.Webhook = webhook
	return m.Set(cfg)
}

// Reset restores compiled-in defaults and persists them.
func (m *Manager) Reset() error {
	return m.Set(Default())
}

// Export serializes the current configuration for backup.
func (m *Manager) Export() (string, error) {
	data, err := json.MarshalIndent(m.Get(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// Import replaces the configuration from a JSON backup, merged against
// defaults and validated before anything is applied.
func (m *Manager) Import(raw string) error {
	cfg := Default()
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return fmt.Errorf("invalid configuration format: %w", err)
	}
	return m.Set(cfg)
}

func (m *Manager) persist(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", m.path, err)
	}
	m.logger.Info("Configuration saved to %s", m.path)
	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/skywatch/skywatch/internal/alerter"
	"github.com/skywatch/skywatch/internal/parameters"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIKeyEnv  = "TOMORROW_IO_API_KEY"
	DefaultBaseURL    = "https://api.tomorrow.io/v4/weather/realtime"
	DefaultAPIPort    = 8080
	DefaultInterval   = 5 * time.Minute
	defaultConcurrent = 4
)

// LoadConfig loads the main configuration file plus the optional
// parameters.yaml and alerts.yaml in the same directory
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := loadYAML(path, cfg); err != nil {
		return nil, fmt.Errorf("loading %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)

	// Load parameters.yaml (optional)
	var params parametersFile
	if err := loadOptionalYAML(filepath.Join(dir, "parameters.yaml"), &params); err != nil {
		return nil, fmt.Errorf("loading parameters.yaml: %w", err)
	}
	cfg.Parameters = params.Parameters

	// Load alerts.yaml (optional)
	var alerts alertsFile
	if err := loadOptionalYAML(filepath.Join(dir, "alerts.yaml"), &alerts); err != nil {
		return nil, fmt.Errorf("loading alerts.yaml: %w", err)
	}
	cfg.Alerts = alerts.Alerts

	applyEnv(cfg)
	applyDefaults(cfg)

	// Validate configuration
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadYAML loads a YAML file into a struct
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func loadOptionalYAML(path string, out interface{}) error {
	err := loadYAML(path, out)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// applyEnv resolves secrets and environment overrides
func applyEnv(cfg *Config) {
	if v := os.Getenv("TOMORROW_IO_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if cfg.Provider.APIKeyEnv == "" {
		cfg.Provider.APIKeyEnv = DefaultAPIKeyEnv
	}
	cfg.Provider.APIKey = os.Getenv(cfg.Provider.APIKeyEnv)

	if cfg.Storage.DSNEnv != "" {
		cfg.Storage.DSN = os.Getenv(cfg.Storage.DSNEnv)
	}

	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = DefaultInterval
	}
	if cfg.Scheduler.Concurrency == 0 {
		cfg.Scheduler.Concurrency = defaultConcurrent
	}
	if cfg.Scheduler.FiringMode == "" {
		cfg.Scheduler.FiringMode = string(alerter.FireLevel)
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultBaseURL
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 10 * time.Second
	}
	if cfg.Provider.RequestsPerSecond == 0 {
		cfg.Provider.RequestsPerSecond = 3
	}
	if cfg.Provider.Burst == 0 {
		cfg.Provider.Burst = 3
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Notifier.QueueSize == 0 {
		cfg.Notifier.QueueSize = 256
	}
	if cfg.Notifier.Workers == 0 {
		cfg.Notifier.Workers = 2
	}
	if cfg.Notifier.SendTimeout == 0 {
		cfg.Notifier.SendTimeout = 10 * time.Second
	}
	if len(cfg.Notifier.Channels) == 0 {
		cfg.Notifier.Channels = map[string]ChannelConfig{"log": {Type: "log"}}
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = DefaultAPIPort
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "skywatch"
	}
}

// Registry builds the parameter registry, falling back to the stock set
func (c *Config) Registry() (*parameters.Registry, error) {
	if len(c.Parameters) == 0 {
		return parameters.NewRegistry(parameters.Defaults())
	}
	return parameters.NewRegistry(c.Parameters)
}

// ChannelNames returns configured channel names in a stable order
func (c *Config) ChannelNames() []string {
	names := make([]string, 0, len(c.Notifier.Channels))
	for name := range c.Notifier.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateConfig validates the configuration
func ValidateConfig(cfg *Config) error {
	// Scheduler
	if cfg.Scheduler.Cron != "" {
		if _, err := cron.ParseStandard(cfg.Scheduler.Cron); err != nil {
			return fmt.Errorf("scheduler.cron: %w", err)
		}
	} else if cfg.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler.interval must be at least 1s")
	}
	if cfg.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if _, err := alerter.ParseFiringMode(cfg.Scheduler.FiringMode); err != nil {
		return fmt.Errorf("scheduler.firing_mode: %w", err)
	}

	// Provider
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("provider: API key not configured (set %s)", cfg.Provider.APIKeyEnv)
	}
	if cfg.Provider.RequestsPerSecond < 0 || cfg.Provider.Burst < 0 {
		return fmt.Errorf("provider: rate limits must not be negative")
	}

	// Storage
	switch cfg.Storage.Driver {
	case "memory":
	case "postgres", "mysql", "sqlite":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage: driver %s requires a DSN (set dsn_env)", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be 'memory', 'postgres', 'mysql' or 'sqlite'")
	}

	// Validate notification channels
	for name, channel := range cfg.Notifier.Channels {
		switch channel.Type {
		case "apprise":
			if channel.URLEnv == "" {
				return fmt.Errorf("channel %s: url_env is required", name)
			}
			// Note: the env var may be set at runtime, so it is not checked here
		case "kafka":
			if len(channel.Brokers) == 0 {
				return fmt.Errorf("channel %s: at least one broker is required", name)
			}
			if channel.Topic == "" {
				return fmt.Errorf("channel %s: topic is required", name)
			}
		case "log":
		default:
			return fmt.Errorf("channel %s: type must be 'apprise', 'kafka', or 'log'", name)
		}
	}

	// Parameters and seed alerts
	registry, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("parameters: %w", err)
	}
	seen := make(map[string]bool, len(cfg.Alerts))
	for _, alert := range cfg.Alerts {
		if err := alert.Validate(registry); err != nil {
			return fmt.Errorf("alerts: %w", err)
		}
		if seen[alert.ID] {
			return fmt.Errorf("alerts: duplicate alert id %s", alert.ID)
		}
		seen[alert.ID] = true
	}

	return nil
}

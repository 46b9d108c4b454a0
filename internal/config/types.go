package config

import (
	"time"

	"github.com/skywatch/skywatch/internal/parameters"
	"github.com/skywatch/skywatch/internal/types"
)

// Config represents the complete SkyWatch configuration
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Provider  ProviderConfig  `yaml:"provider"`
	Storage   StorageConfig   `yaml:"storage"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	API       APIConfig       `yaml:"api"`
	Tracing   TracingConfig   `yaml:"tracing"`

	// Loaded from parameters.yaml and alerts.yaml next to the main file
	Parameters []parameters.Definition `yaml:"-"`
	Alerts     []types.Alert           `yaml:"-"`
}

// SchedulerConfig controls the evaluation cadence
type SchedulerConfig struct {
	Enabled      *bool         `yaml:"enabled,omitempty"`
	Interval     time.Duration `yaml:"interval"`
	Cron         string        `yaml:"cron,omitempty"`
	Concurrency  int           `yaml:"concurrency"`
	AllowOverlap bool          `yaml:"allow_overlap"`
	RunOnStart   bool          `yaml:"run_on_start"`
	FiringMode   string        `yaml:"firing_mode"` // "level" or "edge"
}

// IsEnabled reports whether the scheduler should run; unset means enabled
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ProviderConfig configures the weather provider client
type ProviderConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	APIKey            string        `yaml:"-"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// StorageConfig selects the alert and event store
type StorageConfig struct {
	Driver      string `yaml:"driver"` // "memory", "postgres", "mysql" or "sqlite"
	DSNEnv      string `yaml:"dsn_env,omitempty"`
	DSN         string `yaml:"-"`
	AutoMigrate *bool  `yaml:"auto_migrate,omitempty"`
}

// ShouldMigrate reports whether the schema is created at startup; unset means yes
func (s StorageConfig) ShouldMigrate() bool {
	return s.AutoMigrate == nil || *s.AutoMigrate
}

// NotifierConfig configures the notification dispatcher
type NotifierConfig struct {
	QueueSize        int                      `yaml:"queue_size"`
	Workers          int                      `yaml:"workers"`
	SendTimeout      time.Duration            `yaml:"send_timeout"`
	RedeliverOnStart bool                     `yaml:"redeliver_on_start"`
	Channels         map[string]ChannelConfig `yaml:"channels"`
}

// ChannelConfig defines a notification channel
type ChannelConfig struct {
	Type string `yaml:"type"` // "apprise", "kafka" or "log"

	// apprise
	URLEnv string `yaml:"url_env,omitempty"`
	Target string `yaml:"target,omitempty"`
	Tag    string `yaml:"tag,omitempty"`

	// kafka
	Brokers      []string      `yaml:"brokers,omitempty"`
	Topic        string        `yaml:"topic,omitempty"`
	Compression  string        `yaml:"compression,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
	RequiredAcks int           `yaml:"required_acks,omitempty"`
	MaxRetries   int           `yaml:"max_retries,omitempty"`
}

// APIConfig configures the ops HTTP server
type APIConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
	Port    int   `yaml:"port"`
}

// IsEnabled reports whether the ops API should be served; unset means enabled
func (a APIConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// parametersFile is the layout of parameters.yaml
type parametersFile struct {
	Parameters []parameters.Definition `yaml:"parameters"`
}

// alertsFile is the layout of alerts.yaml
type alertsFile struct {
	Alerts []types.Alert `yaml:"alerts"`
}

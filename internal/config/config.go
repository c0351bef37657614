package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/cascadehq/cascade/internal/models"
	"github.com/cascadehq/cascade/pkg/logger"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logger     logger.Config    `yaml:"logger"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Retry      RetryConfig      `yaml:"retry"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

// SchedulerConfig configures optimal-slot placement. Timezone is carried
// for caller-side display only; slot comparisons use wall-clock instants.
type SchedulerConfig struct {
	Timezone     string                `yaml:"timezone"`
	DefaultSlots []models.ScheduleSlot `yaml:"default_slots"`
}

type RetryConfig struct {
	MaxRetries      int    `yaml:"max_retries"`
	BaseDelayMs     int    `yaml:"base_delay_ms"`
	AlertWebhookURL string `yaml:"alert_webhook_url"`
}

type DispatcherConfig struct {
	Enabled       bool   `yaml:"enabled"`
	PollInterval  string `yaml:"poll_interval"`
	StatsInterval string `yaml:"stats_interval"`
	RetentionDays int    `yaml:"retention_days"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "UTC"
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BaseDelayMs == 0 {
		cfg.Retry.BaseDelayMs = 60000
	}
	if cfg.Dispatcher.PollInterval == "" {
		cfg.Dispatcher.PollInterval = "1m"
	}
	if cfg.Dispatcher.StatsInterval == "" {
		cfg.Dispatcher.StatsInterval = "15m"
	}
	if cfg.Dispatcher.RetentionDays == 0 {
		cfg.Dispatcher.RetentionDays = 90
	}

	return cfg, nil
}

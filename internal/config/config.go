// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Data        DataConfig        `yaml:"data"`
	Engine      EngineConfig      `yaml:"engine"`
	System      SystemConfig      `yaml:"system"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig contains the HTTP/WebSocket server settings
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	StaticDir      string   `yaml:"static_dir"`
	MaxConnections int      `yaml:"max_connections"`
	RateLimit      float64  `yaml:"rate_limit"`  // connections per second per IP
	RateBurst      int      `yaml:"rate_burst"`
	Production     bool     `yaml:"production"`
}

// DataConfig contains durable storage settings
type DataConfig struct {
	BackupDir       string `yaml:"backup_dir"`
	RetentionDays   int    `yaml:"retention_days"`
	MaxBackups      int    `yaml:"max_backups"`
	AutoBackup      bool   `yaml:"auto_backup"`
	BackupSchedule  string `yaml:"backup_schedule"` // cron expression
	SeedOnEmptyDir  bool   `yaml:"seed_on_empty_dir"`
}

// EngineConfig contains price engine settings
type EngineConfig struct {
	AutoStart bool `yaml:"auto_start"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
}

// AlertsConfig contains outbound alert channel settings
type AlertsConfig struct {
	Enabled          bool   `yaml:"enabled"`
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	BroadcastPoolSize   int `yaml:"broadcast_pool_size" validate:"min=1,max=100"`
	BroadcastPoolBuffer int `yaml:"broadcast_pool_buffer" validate:"min=1,max=10000"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateServerConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateDataConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateAlertsConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateConcurrencyConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be between 1 and 65535",
		}
	}

	if len(c.Server.AllowedOrigins) == 0 {
		return ValidationError{
			Field:   "server.allowed_origins",
			Message: "at least one allowed origin is required",
		}
	}

	if c.Server.Production && contains(c.Server.AllowedOrigins, "*") {
		return ValidationError{
			Field:   "server.allowed_origins",
			Value:   "*",
			Message: "wildcard origin is not allowed in production mode",
		}
	}

	if c.Server.MaxConnections < 1 || c.Server.MaxConnections > 10000 {
		return ValidationError{
			Field:   "server.max_connections",
			Value:   c.Server.MaxConnections,
			Message: "must be between 1 and 10000",
		}
	}

	if c.Server.RateLimit <= 0 {
		return ValidationError{
			Field:   "server.rate_limit",
			Value:   c.Server.RateLimit,
			Message: "must be positive",
		}
	}

	return nil
}

func (c *Config) validateDataConfig() error {
	if c.Data.BackupDir == "" {
		return ValidationError{
			Field:   "data.backup_dir",
			Message: "backup directory is required",
		}
	}

	if c.Data.RetentionDays < 1 || c.Data.RetentionDays > 365 {
		return ValidationError{
			Field:   "data.retention_days",
			Value:   c.Data.RetentionDays,
			Message: "must be between 1 and 365",
		}
	}

	if c.Data.MaxBackups < 0 {
		return ValidationError{
			Field:   "data.max_backups",
			Value:   c.Data.MaxBackups,
			Message: "must be zero (unlimited) or positive",
		}
	}

	if c.Data.AutoBackup && len(strings.Fields(c.Data.BackupSchedule)) != 5 {
		return ValidationError{
			Field:   "data.backup_schedule",
			Value:   c.Data.BackupSchedule,
			Message: "must be a five-field cron expression",
		}
	}

	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateAlertsConfig() error {
	if !c.Alerts.Enabled {
		return nil // Skip validation if disabled
	}

	if c.Alerts.SlackWebhookURL == "" && c.Alerts.TelegramBotToken == "" {
		return ValidationError{
			Field:   "alerts",
			Message: "at least one alert channel required when alerts are enabled",
		}
	}

	if c.Alerts.TelegramBotToken != "" && c.Alerts.TelegramChatID == "" {
		return ValidationError{
			Field:   "alerts.telegram_chat_id",
			Message: "chat id is required with a telegram bot token",
		}
	}

	return nil
}

func (c *Config) validateConcurrencyConfig() error {
	if c.Concurrency.BroadcastPoolSize < 1 || c.Concurrency.BroadcastPoolSize > 100 {
		return ValidationError{
			Field:   "concurrency.broadcast_pool_size",
			Value:   c.Concurrency.BroadcastPoolSize,
			Message: "must be between 1 and 100",
		}
	}
	return nil
}

// ListenAddr returns the host:port the server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

// expandEnvVars expands ${VAR} references against the environment
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the configuration used when no file overrides it
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
			StaticDir:      "web",
			MaxConnections: 100,
			RateLimit:      10.0,
			RateBurst:      20,
			Production:     false,
		},
		Data: DataConfig{
			BackupDir:      "data/backups",
			RetentionDays:  30,
			MaxBackups:     0,
			AutoBackup:     true,
			BackupSchedule: "0 0 * * *",
			SeedOnEmptyDir: true,
		},
		Engine: EngineConfig{
			AutoStart: true,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Alerts: AlertsConfig{
			Enabled: false,
		},
		Concurrency: ConcurrencyConfig{
			BroadcastPoolSize:   4,
			BroadcastPoolBuffer: 256,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}

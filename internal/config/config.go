package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Security   SecurityConfig   `mapstructure:"security"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Path           string          `mapstructure:"path"`
	MaxConnections int             `mapstructure:"max_connections"`
	Migration      MigrationConfig `mapstructure:"migration"`
	Archive        ArchiveConfig   `mapstructure:"archive"`
}

type MigrationConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// ArchiveConfig controls the compressed archive pruned rollups are written to
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type AuthConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	TokenExpiry int    `mapstructure:"token_expiry"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebSocketConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PingInterval int  `mapstructure:"ping_interval"`
	PongTimeout  int  `mapstructure:"pong_timeout"`
	WriteTimeout int  `mapstructure:"write_timeout"`
}

// SecurityConfig contains CORS and rate limit settings for the API
type SecurityConfig struct {
	EnableCORS     bool            `mapstructure:"enable_cors"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits sample ingestion per client IP
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerSecond int  `mapstructure:"requests_per_second"`
	Burst             int  `mapstructure:"burst"`
}

// MonitoringConfig contains collection, aggregation and alerting configuration
type MonitoringConfig struct {
	Enabled            bool                        `mapstructure:"enabled"`
	CollectionInterval string                      `mapstructure:"collection_interval"`
	CollectorTimeout   string                      `mapstructure:"collector_timeout"`
	MetricsRetention   string                      `mapstructure:"metrics_retention"`
	SystemCollectors   bool                        `mapstructure:"system_collectors"`
	DiskPath           string                      `mapstructure:"disk_path"`
	CleanupSchedule    string                      `mapstructure:"cleanup_schedule"`
	Aggregation        MonitoringAggregationConfig `mapstructure:"aggregation"`
	Alerts             MonitoringAlertsConfig      `mapstructure:"alerts"`
	Notifications      MonitoringNotifyConfig      `mapstructure:"notifications"`
	Prometheus         MonitoringPrometheusConfig  `mapstructure:"prometheus"`
}

// MonitoringAggregationConfig contains rollup configuration
type MonitoringAggregationConfig struct {
	Interval   string `mapstructure:"interval"`
	Retention  string `mapstructure:"retention"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// MonitoringAlertsConfig contains alert configuration
type MonitoringAlertsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	RulesFile string `mapstructure:"rules_file"`
	Retention string `mapstructure:"retention"`
}

// MonitoringNotifyConfig contains notification dispatch configuration
type MonitoringNotifyConfig struct {
	BufferSize  int    `mapstructure:"buffer_size"`
	SendTimeout string `mapstructure:"send_timeout"`
}

// MonitoringPrometheusConfig contains Prometheus configuration
type MonitoringPrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Prefix  string `mapstructure:"prefix"`
}

// Load reads the configuration file, environment overrides and defaults.
// An empty path searches ./configs and the working directory for config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("BOTPANEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("auth.jwt_secret", "BOTPANEL_JWT_SECRET", "JWT_SECRET")
	v.BindEnv("server.port", "BOTPANEL_SERVER_PORT", "PORT")
	v.BindEnv("database.path", "BOTPANEL_DATABASE_PATH", "DATABASE_PATH")
	v.BindEnv("logging.level", "BOTPANEL_LOGGING_LEVEL", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	switch c.Server.Mode {
	case "development", "production", "test":
	default:
		errs = append(errs, fmt.Sprintf("server.mode %q must be development, production or test", c.Server.Mode))
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.Archive.Enabled && c.Database.Archive.Path == "" {
		errs = append(errs, "database.archive.path is required when archiving is enabled")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required when auth is enabled")
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RequestsPerSecond <= 0 || c.Security.RateLimit.Burst <= 0) {
		errs = append(errs, "security.rate_limit requires positive requests_per_second and burst")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}

	durations := map[string]string{
		"monitoring.collection_interval":        c.Monitoring.CollectionInterval,
		"monitoring.collector_timeout":          c.Monitoring.CollectorTimeout,
		"monitoring.metrics_retention":          c.Monitoring.MetricsRetention,
		"monitoring.aggregation.interval":       c.Monitoring.Aggregation.Interval,
		"monitoring.aggregation.retention":      c.Monitoring.Aggregation.Retention,
		"monitoring.alerts.retention":           c.Monitoring.Alerts.Retention,
		"monitoring.notifications.send_timeout": c.Monitoring.Notifications.SendTimeout,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s %q is not a positive duration", key, value))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.mode", "development")

	// Database defaults
	v.SetDefault("database.path", "./data/botpanel.db")
	v.SetDefault("database.max_connections", 1)
	v.SetDefault("database.migration.enabled", true)
	v.SetDefault("database.migration.auto_migrate", true)
	v.SetDefault("database.archive.enabled", false)
	v.SetDefault("database.archive.path", "./data/archive")

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token_expiry", 3600)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// WebSocket defaults
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.ping_interval", 30)
	v.SetDefault("websocket.pong_timeout", 60)
	v.SetDefault("websocket.write_timeout", 10)

	// Security defaults
	v.SetDefault("security.enable_cors", true)
	v.SetDefault("security.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests_per_second", 50)
	v.SetDefault("security.rate_limit.burst", 100)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.collection_interval", "5s")
	v.SetDefault("monitoring.collector_timeout", "10s")
	v.SetDefault("monitoring.metrics_retention", "1h")
	v.SetDefault("monitoring.system_collectors", true)
	v.SetDefault("monitoring.disk_path", "/")
	v.SetDefault("monitoring.cleanup_schedule", "@hourly")
	v.SetDefault("monitoring.aggregation.interval", "60s")
	v.SetDefault("monitoring.aggregation.retention", "168h")
	v.SetDefault("monitoring.aggregation.buffer_size", 64)
	v.SetDefault("monitoring.alerts.enabled", true)
	v.SetDefault("monitoring.alerts.rules_file", "./configs/rules.yaml")
	v.SetDefault("monitoring.alerts.retention", "168h")
	v.SetDefault("monitoring.notifications.buffer_size", 256)
	v.SetDefault("monitoring.notifications.send_timeout", "10s")
	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.path", "/metrics")
	v.SetDefault("monitoring.prometheus.prefix", "botpanel")
}

// ParseDuration parses a configured duration, falling back when it is empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

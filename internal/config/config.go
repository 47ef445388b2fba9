// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Backend       BackendConfig      `mapstructure:"backend"`
	Transport     TransportConfig    `mapstructure:"transport"`
	Session       SessionConfig      `mapstructure:"session"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// BackendConfig describes the mining-operations backend
type BackendConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	SocketURL      string        `mapstructure:"socket_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// TransportConfig contains push channel configuration
type TransportConfig struct {
	Transports          []string      `mapstructure:"transports"`
	Path                string        `mapstructure:"path"`
	Reconnection        bool          `mapstructure:"reconnection"`
	ReconnectAttempts   int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
	ReconnectDelayMax   time.Duration `mapstructure:"reconnect_delay_max"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
}

// SessionConfig holds the credentials the session starts with
type SessionConfig struct {
	Token          string `mapstructure:"token"`
	Role           string `mapstructure:"role"`
	UseKeyring     bool   `mapstructure:"use_keyring"`
	KeyringService string `mapstructure:"keyring_service"`
}

// NotificationConfig contains notification store and feedback configuration
type NotificationConfig struct {
	PageSize              int           `mapstructure:"page_size"`
	UpToastDuration       time.Duration `mapstructure:"up_toast_duration"`
	FeedbackToastDuration time.Duration `mapstructure:"feedback_toast_duration"`
	SoundEnabled          bool          `mapstructure:"sound_enabled"`
	SoundCommand          string        `mapstructure:"sound_command"`
	DedupePush            bool          `mapstructure:"dedupe_push"`
}

// StorageConfig contains journal database configuration
type StorageConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	RetentionDays    int           `mapstructure:"retention_days"`
}

// ServerConfig contains local HTTP server configuration
type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("MINEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Backend.SocketURL == "" {
		config.Backend.SocketURL = DeriveSocketURL(config.Backend.APIURL)
	}
	config.Backend.APIURL = strings.TrimRight(config.Backend.APIURL, "/")

	return &config, nil
}

// Default returns the configuration produced by defaults alone
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// Defaults only contain decodable values
	_ = v.Unmarshal(&config)
	config.Backend.SocketURL = DeriveSocketURL(config.Backend.APIURL)
	return &config
}

// DeriveSocketURL strips a trailing /api segment from the REST base URL
func DeriveSocketURL(apiURL string) string {
	base := strings.TrimRight(apiURL, "/")
	return strings.TrimSuffix(base, "/api")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "mine-alert-notifier")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Backend defaults
	v.SetDefault("backend.api_url", "http://localhost:5000/api")
	v.SetDefault("backend.socket_url", "")
	v.SetDefault("backend.request_timeout", "15s")
	v.SetDefault("backend.health_timeout", "5s")
	v.SetDefault("backend.health_interval", "30s")

	// Transport defaults
	v.SetDefault("transport.transports", []string{"websocket", "polling"})
	v.SetDefault("transport.path", "/socket.io/")
	v.SetDefault("transport.reconnection", true)
	v.SetDefault("transport.reconnect_attempts", 5)
	v.SetDefault("transport.reconnect_delay", "1s")
	v.SetDefault("transport.reconnect_delay_max", "5s")
	v.SetDefault("transport.randomization_factor", 0.5)
	v.SetDefault("transport.dial_timeout", "20s")

	// Session defaults
	v.SetDefault("session.token", "")
	v.SetDefault("session.role", "")
	v.SetDefault("session.use_keyring", true)
	v.SetDefault("session.keyring_service", "mine-alert-notifier")

	// Notification defaults
	v.SetDefault("notifications.page_size", 50)
	v.SetDefault("notifications.up_toast_duration", "5s")
	v.SetDefault("notifications.feedback_toast_duration", "4s")
	v.SetDefault("notifications.sound_enabled", true)
	v.SetDefault("notifications.sound_command", "")
	v.SetDefault("notifications.dedupe_push", true)

	// Storage defaults
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/notifications.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")
	v.SetDefault("storage.retention_days", 30)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file", "")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend.APIURL == "" {
		return fmt.Errorf("backend API URL is required")
	}
	if _, err := url.ParseRequestURI(c.Backend.APIURL); err != nil {
		return fmt.Errorf("backend API URL is invalid: %w", err)
	}
	if c.Backend.SocketURL == "" {
		return fmt.Errorf("backend socket URL is required")
	}
	if c.Backend.RequestTimeout <= 0 || c.Backend.HealthTimeout <= 0 {
		return fmt.Errorf("backend timeouts must be positive")
	}
	if c.Backend.HealthInterval <= 0 {
		return fmt.Errorf("backend health interval must be positive")
	}
	if len(c.Transport.Transports) == 0 {
		return fmt.Errorf("at least one transport is required")
	}
	for _, t := range c.Transport.Transports {
		if t != "websocket" && t != "polling" {
			return fmt.Errorf("unsupported transport %q", t)
		}
	}
	if c.Transport.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect attempts must not be negative")
	}
	if c.Transport.ReconnectDelay <= 0 || c.Transport.ReconnectDelayMax < c.Transport.ReconnectDelay {
		return fmt.Errorf("reconnect delay must be positive and not exceed reconnect_delay_max")
	}
	if c.Transport.RandomizationFactor < 0 || c.Transport.RandomizationFactor > 1 {
		return fmt.Errorf("randomization factor must be between 0 and 1")
	}
	if c.Notifications.PageSize <= 0 {
		return fmt.Errorf("notification page size must be positive")
	}
	if c.Storage.Enabled {
		if t := strings.ToLower(c.Storage.Type); t != "sqlite" && t != "postgres" && t != "postgresql" {
			return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
		}
		if c.Storage.ConnectionString == "" {
			return fmt.Errorf("storage connection string is required")
		}
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	return nil
}

// Package config provides configuration management for FeatFlow.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for FeatFlow.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds feature store configuration.
// Driver "sqlite" (default) uses Path; driver "postgres" uses the
// host/port/user fields assembled by DSN().
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// OrchestratorConfig holds auto-mode execution configuration.
type OrchestratorConfig struct {
	// MaxConcurrency bounds the number of concurrently running feature
	// sessions. Adjustable at runtime through the API; must stay in 1..10.
	MaxConcurrency int `mapstructure:"maxConcurrency"`

	// QueueSize bounds the FIFO admission queue for starts requested while
	// the running set is full.
	QueueSize int `mapstructure:"queueSize"`

	// InterruptGrace is how long an interrupt waits for the agent process
	// to exit before reporting failure, in seconds.
	InterruptGrace int `mapstructure:"interruptGrace"`

	// OutputBufferLines bounds the per-session recent output ring.
	OutputBufferLines int `mapstructure:"outputBufferLines"`

	// CommitOnVerified triggers a worktree commit when a feature
	// transitions to the verified status.
	CommitOnVerified bool `mapstructure:"commitOnVerified"`
}

// AgentConfig holds agent provider configuration.
type AgentConfig struct {
	// DefaultProvider selects the provider used for feature sessions
	// (e.g. "claude", "claude-chrome").
	DefaultProvider string `mapstructure:"defaultProvider"`

	// DefaultModel is the model identifier passed to the agent CLI when a
	// feature does not specify one. Aliases and routing suffixes are
	// resolved by the provider.
	DefaultModel string `mapstructure:"defaultModel"`

	// McpServerEnabled enables the embedded MCP server (default: true)
	McpServerEnabled bool `mapstructure:"mcpServerEnabled"`

	// McpServerPort is the port for the embedded MCP server (default: 9090)
	McpServerPort int `mapstructure:"mcpServerPort"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// InterruptGraceDuration returns the interrupt grace period as a time.Duration.
func (o *OrchestratorConfig) InterruptGraceDuration() time.Duration {
	return time.Duration(o.InterruptGrace) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("FEATFLOW_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - sqlite on disk unless postgres is configured
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "~/.featflow/featflow.db")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "featflow")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "featflow")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "featflow")
	v.SetDefault("nats.maxReconnects", 10)

	// Orchestrator defaults
	v.SetDefault("orchestrator.maxConcurrency", 3)
	v.SetDefault("orchestrator.queueSize", 32)
	v.SetDefault("orchestrator.interruptGrace", 10)
	v.SetDefault("orchestrator.outputBufferLines", 200)
	v.SetDefault("orchestrator.commitOnVerified", true)

	// Agent defaults
	v.SetDefault("agent.defaultProvider", "claude")
	v.SetDefault("agent.defaultModel", "sonnet")
	v.SetDefault("agent.mcpServerEnabled", true)
	v.SetDefault("agent.mcpServerPort", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix FEATFLOW_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/featflow/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("FEATFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("orchestrator.maxConcurrency", "FEATFLOW_ORCHESTRATOR_MAX_CONCURRENCY")
	_ = v.BindEnv("agent.defaultProvider", "FEATFLOW_AGENT_DEFAULT_PROVIDER")
	_ = v.BindEnv("agent.defaultModel", "FEATFLOW_AGENT_DEFAULT_MODEL")
	_ = v.BindEnv("agent.mcpServerPort", "FEATFLOW_AGENT_MCP_SERVER_PORT")
	_ = v.BindEnv("database.dbName", "FEATFLOW_DATABASE_DB_NAME")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/featflow/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Database validation
	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	// Orchestrator validation - the concurrency bound is a hard 1..10 range
	if cfg.Orchestrator.MaxConcurrency < 1 || cfg.Orchestrator.MaxConcurrency > 10 {
		errs = append(errs, "orchestrator.maxConcurrency must be between 1 and 10")
	}
	if cfg.Orchestrator.QueueSize <= 0 {
		errs = append(errs, "orchestrator.queueSize must be positive")
	}
	if cfg.Orchestrator.InterruptGrace <= 0 {
		errs = append(errs, "orchestrator.interruptGrace must be positive")
	}
	if cfg.Orchestrator.OutputBufferLines <= 0 {
		errs = append(errs, "orchestrator.outputBufferLines must be positive")
	}

	// Agent validation
	if cfg.Agent.DefaultProvider == "" {
		errs = append(errs, "agent.defaultProvider is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ExpandedPath returns the sqlite path with ~ expanded to the user's home directory.
func (d *DatabaseConfig) ExpandedPath() (string, error) {
	path := d.Path
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

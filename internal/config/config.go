// ABOUTME: Configuration loading and parsing for agentworld
// ABOUTME: Supports YAML or TOML files, ${VAR} expansion, env overrides, and duration parsing

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENTWORLD"

// Config represents the complete agentworld configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Events   EventsConfig   `yaml:"events" toml:"events"`
	Broker   BrokerConfig   `yaml:"broker" toml:"broker"`
	Worlds   WorldsConfig   `yaml:"worlds" toml:"worlds"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo)
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// EventsConfig controls the per-world event bus
type EventsConfig struct {
	Persist      bool `yaml:"persist" toml:"persist"`
	HistoryLimit int  `yaml:"history_limit" toml:"history_limit"`
}

// BrokerConfig selects how events travel between processes
type BrokerConfig struct {
	Provider      string        `yaml:"provider" toml:"provider"` // local, kafka
	Brokers       []string      `yaml:"brokers" toml:"brokers"`
	TopicPrefix   string        `yaml:"topic_prefix" toml:"topic_prefix"`
	ConsumerGroup string        `yaml:"consumer_group" toml:"consumer_group"`
	DedupeTTL     time.Duration `yaml:"-" toml:"-"`

	DedupeTTLRaw string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// WorldsConfig holds defaults for new worlds
type WorldsConfig struct {
	DefaultTurnLimit int `yaml:"default_turn_limit" toml:"default_turn_limit"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// envOverrides are read from AGENTWORLD_* variables after the file is parsed.
type envOverrides struct {
	DBPath             string   `envconfig:"DB_PATH"`
	DBDriver           string   `envconfig:"DB_DRIVER"`
	DisablePersistence bool     `envconfig:"DISABLE_PERSISTENCE"`
	HTTPAddr           string   `envconfig:"HTTP_ADDR"`
	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS"`
	JWTSecret          string   `envconfig:"JWT_SECRET"`
	LogLevel           string   `envconfig:"LOG_LEVEL"`
}

// Default returns a configuration that runs a single local process.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:           "127.0.0.1:8080",
			ShutdownTimeout:    10 * time.Second,
			ShutdownTimeoutRaw: "10s",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "agentworld.db",
		},
		Events: EventsConfig{
			Persist:      true,
			HistoryLimit: 1000,
		},
		Broker: BrokerConfig{
			Provider:      "local",
			TopicPrefix:   "agentworld",
			ConsumerGroup: "agentworld",
			DedupeTTL:     5 * time.Minute,
			DedupeTTLRaw:  "5m",
		},
		Worlds: WorldsConfig{
			DefaultTurnLimit: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML. Values the
// file omits keep their defaults. Environment variables in the format
// ${VAR_NAME} are expanded, then AGENTWORLD_* overrides are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path if it exists and otherwise starts from Default.
// Environment overrides apply either way.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	if env.DBPath != "" {
		cfg.Database.Path = env.DBPath
	}
	if env.DBDriver != "" {
		cfg.Database.Driver = env.DBDriver
	}
	if env.DisablePersistence {
		cfg.Events.Persist = false
	}
	if env.HTTPAddr != "" {
		cfg.Server.HTTPAddr = env.HTTPAddr
	}
	if len(env.KafkaBrokers) > 0 {
		cfg.Broker.Brokers = env.KafkaBrokers
		cfg.Broker.Provider = "kafka"
	}
	if env.JWTSecret != "" {
		cfg.Auth.JWTSecret = env.JWTSecret
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Events.HistoryLimit < 0 {
		return fmt.Errorf("events.history_limit must not be negative")
	}

	switch c.Broker.Provider {
	case "local":
	case "kafka":
		if len(c.Broker.Brokers) == 0 {
			return fmt.Errorf("broker.brokers is required when broker.provider is kafka")
		}
	default:
		return fmt.Errorf("broker.provider must be local or kafka, got %q", c.Broker.Provider)
	}

	if c.Worlds.DefaultTurnLimit < 1 {
		return fmt.Errorf("worlds.default_turn_limit must be at least 1")
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// SlogLevel returns the configured level, defaulting to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	level, err := parseLevel(l.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", s)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if cfg.Broker.DedupeTTLRaw != "" {
		cfg.Broker.DedupeTTL, err = time.ParseDuration(cfg.Broker.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Broker.DedupeTTLRaw, err)
		}
	}

	return nil
}

package compensable

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fortressi/compensable/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// Config is the file-level configuration of a host embedding the coordinator.
type Config struct {
	LogLevel          string        `yaml:"log_level"`
	EscalationTimeout time.Duration `yaml:"escalation_timeout"`
	Store             StoreConfig   `yaml:"store"`
	Metrics           MetricsConfig `yaml:"metrics"`
}

// StoreConfig selects and configures the snapshot store.
type StoreConfig struct {
	Backend string      `yaml:"backend"` // "memory", "file" or "redis"
	Dir     string      `yaml:"dir"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis snapshot store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// MetricsConfig configures prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		LogLevel:          "info",
		EscalationTimeout: 0,
		Store: StoreConfig{
			Backend: BackendFile,
			Dir:     ".compensable/snapshots",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "compensable:snapshot:",
			},
		},
		Metrics: MetricsConfig{
			Namespace: "compensable",
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.EscalationTimeout < 0 {
		return fmt.Errorf("escalation_timeout must not be negative")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir is required for the file backend")
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Options turns the configuration into coordinator options. The store is
// built by the caller, since its backend may live outside this package;
// metrics are registered with reg when enabled.
func (c Config) Options(store Store, reg prometheus.Registerer) ([]Option, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithLogger(logging.New(level)),
		WithEscalationTimeout(c.EscalationTimeout),
	}
	if store != nil {
		opts = append(opts, WithStore(store))
	}
	if c.Metrics.Enabled {
		m := NewMetrics(c.Metrics.Namespace)
		if reg != nil {
			if err := m.Register(reg); err != nil {
				return nil, fmt.Errorf("failed to register metrics: %w", err)
			}
		}
		opts = append(opts, WithMetrics(m))
	}
	return opts, nil
}

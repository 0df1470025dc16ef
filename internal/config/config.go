// Package config provides typed configuration loaded through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full varo configuration tree.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StorageConfig configures the SQLite database.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig configures the categorization engine.
type EngineConfig struct {
	RuleThreshold  float64 `mapstructure:"rule_threshold"`
	MinAccuracy    float64 `mapstructure:"min_accuracy"`
	HoldoutEvery   int     `mapstructure:"holdout_every"`
	MinEvalSamples int     `mapstructure:"min_eval_samples"`
}

// SchedulerConfig configures background job execution.
type SchedulerConfig struct {
	TickInterval           time.Duration `mapstructure:"tick_interval"`
	MaxRetries             int           `mapstructure:"max_retries"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	Workers                int           `mapstructure:"workers"`
}

// WatchdogConfig configures anomaly detection.
type WatchdogConfig struct {
	ZScoreThreshold  float64 `mapstructure:"zscore_threshold"`
	PercentThreshold float64 `mapstructure:"percent_threshold"`
	Alpha            float64 `mapstructure:"alpha"`
	ScanEveryN       int     `mapstructure:"scan_every_n"`
	MinObservations  int     `mapstructure:"min_observations"`
}

// ServerConfig configures the admin HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default value for every key so that a missing
// config file still yields a runnable configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.path", "~/.local/share/varo/varo.db")

	v.SetDefault("engine.rule_threshold", 0.9)
	v.SetDefault("engine.min_accuracy", 0.70)
	v.SetDefault("engine.holdout_every", 5)
	v.SetDefault("engine.min_eval_samples", 10)

	v.SetDefault("scheduler.tick_interval", time.Second)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.max_consecutive_failures", 3)
	v.SetDefault("scheduler.workers", 8)

	v.SetDefault("watchdog.zscore_threshold", 2.0)
	v.SetDefault("watchdog.percent_threshold", 40.0)
	v.SetDefault("watchdog.alpha", 0.3)
	v.SetDefault("watchdog.scan_every_n", 10)
	v.SetDefault("watchdog.min_observations", 5)

	v.SetDefault("server.addr", "127.0.0.1:8710")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load materializes the typed configuration from viper's merged sources.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values that would silently break detection or scheduling.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}
	if c.Engine.RuleThreshold < 0 || c.Engine.RuleThreshold > 1 {
		return fmt.Errorf("engine.rule_threshold must be between 0 and 1, got %v", c.Engine.RuleThreshold)
	}
	if c.Engine.MinAccuracy < 0 || c.Engine.MinAccuracy > 1 {
		return fmt.Errorf("engine.min_accuracy must be between 0 and 1, got %v", c.Engine.MinAccuracy)
	}
	if c.Watchdog.Alpha <= 0 || c.Watchdog.Alpha > 1 {
		return fmt.Errorf("watchdog.alpha must be in (0, 1], got %v", c.Watchdog.Alpha)
	}
	if c.Watchdog.ZScoreThreshold <= 0 {
		return fmt.Errorf("watchdog.zscore_threshold must be positive, got %v", c.Watchdog.ZScoreThreshold)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive, got %v", c.Scheduler.TickInterval)
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive, got %v", c.Scheduler.Workers)
	}
	return nil
}

// ExpandPath expands a leading ~ and $VAR environment references in a path.
func ExpandPath(path string) string {
	switch {
	case path == "~":
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	case strings.HasPrefix(path, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Fields are populated
// from a yaml config file and AUTOMATON_* environment variables via viper.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Perception  PerceptionConfig  `mapstructure:"perception" yaml:"perception"`
	Recognition RecognitionConfig `mapstructure:"recognition" yaml:"recognition"`
	Execution   ExecutionConfig   `mapstructure:"execution" yaml:"execution"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
}

// LoggerConfig controls the zap logger setup.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	// LogFile enables an additional JSON file sink with rotation.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// SessionConfig controls the control loop.
type SessionConfig struct {
	// Script names the stored script to run.
	Script string `mapstructure:"script" yaml:"script"`
	// Interval overrides the script's capture interval when positive.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// CycleTimeout bounds one Sense->Judge->Act cycle.
	CycleTimeout time.Duration `mapstructure:"cycle_timeout" yaml:"cycle_timeout"`
	// DryRun routes actions to the logging sink instead of a real one.
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
	// Schedule optionally starts sessions on a cron expression instead of
	// immediately.
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

// PerceptionConfig controls frame capture and change detection.
type PerceptionConfig struct {
	Window        string  `mapstructure:"window" yaml:"window"`
	Grayscale     bool    `mapstructure:"grayscale" yaml:"grayscale"`
	ContrastBoost float64 `mapstructure:"contrast_boost" yaml:"contrast_boost"`
	// FrameDir is where the file-based reference capturer reads frames from
	// (dry runs and tests only).
	FrameDir string `mapstructure:"frame_dir" yaml:"frame_dir"`
}

// RecognitionConfig controls the template matcher.
type RecognitionConfig struct {
	// DefaultThreshold applies when a template carries no threshold.
	DefaultThreshold float64 `mapstructure:"default_threshold" yaml:"default_threshold"`
	// Workers bounds the parallel template matches per frame. Zero means
	// one worker per CPU.
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// ExecutionConfig controls action dispatch pacing.
type ExecutionConfig struct {
	// MaxActionsPerSecond rate-limits dispatch; zero disables the limiter.
	MaxActionsPerSecond float64 `mapstructure:"max_actions_per_second" yaml:"max_actions_per_second"`
	// DefaultPostDelay applies to actions that declare no post-delay.
	DefaultPostDelay time.Duration `mapstructure:"default_post_delay" yaml:"default_post_delay"`
}

// StoreConfig controls script/template persistence.
type StoreConfig struct {
	// Path is the sqlite database file.
	Path string `mapstructure:"path" yaml:"path"`
	// WatchScripts enables hot-reloading scripts from ScriptDir.
	WatchScripts bool   `mapstructure:"watch_scripts" yaml:"watch_scripts"`
	ScriptDir    string `mapstructure:"script_dir" yaml:"script_dir"`
}

// Default returns a configuration with workable defaults for every knob.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "automaton",
			MaxSize:     50,
			MaxBackups:  3,
			MaxAge:      14,
		},
		Session: SessionConfig{
			Interval:     250 * time.Millisecond,
			CycleTimeout: 10 * time.Second,
			DryRun:       true,
		},
		Perception: PerceptionConfig{
			Grayscale: true,
		},
		Recognition: RecognitionConfig{
			DefaultThreshold: 0.8,
		},
		Execution: ExecutionConfig{
			DefaultPostDelay: 30 * time.Millisecond,
		},
		Store: StoreConfig{
			Path: "automaton.db",
		},
	}
}

// Load reads configuration from the given file (or the default search path
// when empty) plus AUTOMATON_* environment variables, layered over Default.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("automaton")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AUTOMATON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; an explicit one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			if cfgFile != "" {
				return nil, fmt.Errorf("failed to read config file %q: %w", cfgFile, err)
			}
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a working session.
func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logger.format must be \"console\" or \"json\", got %q", c.Logger.Format)
	}
	if c.Recognition.DefaultThreshold < 0 || c.Recognition.DefaultThreshold > 1 {
		return fmt.Errorf("recognition.default_threshold must be within [0,1], got %v", c.Recognition.DefaultThreshold)
	}
	if c.Session.Interval < 0 {
		return fmt.Errorf("session.interval must not be negative")
	}
	if c.Execution.MaxActionsPerSecond < 0 {
		return fmt.Errorf("execution.max_actions_per_second must not be negative")
	}
	if c.Store.WatchScripts && c.Store.ScriptDir == "" {
		return fmt.Errorf("store.script_dir is required when store.watch_scripts is enabled")
	}
	return nil
}

// Package config provides YAML-based configuration loading for peerwire
// programs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the application
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Host holds host-level tunables shared by servers and clients
	Host HostConfig `mapstructure:"host"`

	// Transport selects and configures the engine
	Transport TransportConfig `mapstructure:"transport"`

	// Sched configures the task scheduler
	Sched SchedConfig `mapstructure:"sched"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// HostConfig carries connection-model tunables.
type HostConfig struct {
	MaxPeers          int    `mapstructure:"max_peers"`
	MaxChannels       int    `mapstructure:"max_channels"`
	IncomingBandwidth uint32 `mapstructure:"incoming_bandwidth"`
	OutgoingBandwidth uint32 `mapstructure:"outgoing_bandwidth"`
	// ServiceIntervalMS is the background service-loop poll timeout.
	ServiceIntervalMS int `mapstructure:"service_interval_ms"`
}

// TransportConfig selects the engine and its addresses.
type TransportConfig struct {
	// Kind: udp, quic, or mem
	Kind string `mapstructure:"kind"`
	// Listen address for servers, host:port
	Listen string `mapstructure:"listen"`
	// Connect address for clients, host:port
	Connect string `mapstructure:"connect"`
}

// SchedConfig configures the worker pool.
type SchedConfig struct {
	// Workers: zero selects one per CPU
	Workers int `mapstructure:"workers"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "peerwire",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/peerwire.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Host: HostConfig{
			MaxPeers:          32,
			MaxChannels:       2,
			ServiceIntervalMS: 10,
		},
		Transport: TransportConfig{
			Kind:   "udp",
			Listen: ":7777",
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment
// overrides. Environment variables use the prefix PEERWIRE and `.`/`-`
// are replaced with `_`. Example: PEERWIRE_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PEERWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("host.max_peers", cfg.Host.MaxPeers)
	v.SetDefault("host.max_channels", cfg.Host.MaxChannels)
	v.SetDefault("host.incoming_bandwidth", cfg.Host.IncomingBandwidth)
	v.SetDefault("host.outgoing_bandwidth", cfg.Host.OutgoingBandwidth)
	v.SetDefault("host.service_interval_ms", cfg.Host.ServiceIntervalMS)
	v.SetDefault("transport.kind", cfg.Transport.Kind)
	v.SetDefault("transport.listen", cfg.Transport.Listen)
	v.SetDefault("transport.connect", cfg.Transport.Connect)
	v.SetDefault("sched.workers", cfg.Sched.Workers)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("PEERWIRE_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `peerwire`
		v.SetConfigName("peerwire")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".peerwire"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	switch c.Transport.Kind {
	case "udp", "quic", "mem":
		// ok
	default:
		return fmt.Errorf("invalid transport.kind: %q", c.Transport.Kind)
	}

	if c.Host.MaxPeers <= 0 {
		c.Host.MaxPeers = 32
	}
	if c.Host.MaxChannels <= 0 {
		c.Host.MaxChannels = 1
	}
	if c.Host.ServiceIntervalMS <= 0 {
		c.Host.ServiceIntervalMS = 10
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

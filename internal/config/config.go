// Package config loads toolkit configuration from file, environment, and
// flags via viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full toolkit configuration.
type Config struct {
	DataDir string        `mapstructure:"data_dir"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// RemoteConfig selects and configures the remote backend.
type RemoteConfig struct {
	Backend string            `mapstructure:"backend"`
	Options map[string]string `mapstructure:"options"`
}

// CacheConfig controls the cache tier and its eviction.
type CacheConfig struct {
	MaximumSizeBytes       int64         `mapstructure:"maximum_size_bytes"`
	MinimumDeviceFreeBytes int64         `mapstructure:"minimum_device_free_bytes"`
	TargetDeviceFreeBytes  int64         `mapstructure:"target_device_free_bytes"`
	PruneInterval          time.Duration `mapstructure:"prune_interval"`
}

// UploadConfig controls the background push workers.
type UploadConfig struct {
	Workers       int  `mapstructure:"workers"`
	WaitForRemote bool `mapstructure:"wait_for_remote"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Protocol string `mapstructure:"protocol"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "~/.filetoolkit")
	v.SetDefault("remote.backend", "http")
	v.SetDefault("remote.options", map[string]string{})
	v.SetDefault("cache.maximum_size_bytes", int64(1<<30))
	v.SetDefault("cache.minimum_device_free_bytes", int64(256<<20))
	v.SetDefault("cache.target_device_free_bytes", int64(512<<20))
	v.SetDefault("cache.prune_interval", time.Duration(0))
	v.SetDefault("upload.workers", 4)
	v.SetDefault("upload.wait_for_remote", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "pretty")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9464")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.protocol", "http")
}

// Load reads configuration from the given file (or the default search
// locations when empty), layered with FILETOOL_* environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("filetoolkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/filetoolkit")
		v.AddConfigPath("/etc/filetoolkit")
	}

	v.SetEnvPrefix("FILETOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

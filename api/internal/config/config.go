package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration, loaded from
// turbo.toml (optional) and TURBO_-prefixed environment variables.
type Config struct {
	ServerHost     string `mapstructure:"server.host"`
	ServerPort     int    `mapstructure:"server.port"`
	ServerLogLevel string `mapstructure:"server.log_level"`

	RedisURL string `mapstructure:"redis.url"`

	TurboHome    string `mapstructure:"paths.turbo_home"`
	PackagesPath string `mapstructure:"paths.packages_path"`

	MaxConcurrentJobs int `mapstructure:"sandbox.max_concurrent_jobs"`
	MemoryLimitMB     int `mapstructure:"sandbox.memory_limit_mb"`

	CacheMaxEntries     int `mapstructure:"cache.max_entries"`
	CacheGCIntervalSecs int `mapstructure:"cache.gc_interval_seconds"`

	Workers int `mapstructure:"workers"`

	RequestBodyLimit int64 `mapstructure:"request_body_limit"`
}

// Load reads configuration from turbo.toml and the environment, applying
// the same default-value-then-file-then-env precedence as viper provides.
func Load() (*Config, error) {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 4000)
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.url", "redis://127.0.0.1:6379")
	viper.SetDefault("paths.turbo_home", defaultTurboHome())
	viper.SetDefault("paths.packages_path", "./packages")
	viper.SetDefault("sandbox.max_concurrent_jobs", 64)
	viper.SetDefault("sandbox.memory_limit_mb", 512)
	viper.SetDefault("cache.max_entries", 500)
	viper.SetDefault("cache.gc_interval_seconds", 300)
	viper.SetDefault("workers", 10)
	viper.SetDefault("request_body_limit", int64(1024*1024))

	viper.SetEnvPrefix("TURBO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("turbo")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/turbo/")
	viper.AddConfigPath("$HOME/.turbo/")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		ServerHost:          viper.GetString("server.host"),
		ServerPort:          viper.GetInt("server.port"),
		ServerLogLevel:      viper.GetString("server.log_level"),
		RedisURL:            viper.GetString("redis.url"),
		TurboHome:           viper.GetString("paths.turbo_home"),
		PackagesPath:        viper.GetString("paths.packages_path"),
		MaxConcurrentJobs:   viper.GetInt("sandbox.max_concurrent_jobs"),
		MemoryLimitMB:       viper.GetInt("sandbox.memory_limit_mb"),
		CacheMaxEntries:     viper.GetInt("cache.max_entries"),
		CacheGCIntervalSecs: viper.GetInt("cache.gc_interval_seconds"),
		Workers:             viper.GetInt("workers"),
		RequestBodyLimit:    viper.GetInt64("request_body_limit"),
	}

	if workers := GetIntEnv("TURBO_WORKERS", 0); workers > 0 {
		cfg.Workers = workers
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultTurboHome resolves TURBO_HOME, then $HOME/.turbo, then a
// system-wide fallback.
func defaultTurboHome() string {
	if home := os.Getenv("TURBO_HOME"); home != "" {
		return home
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".turbo")
	}
	return "/var/lib/turbo"
}

func validate(cfg *Config) error {
	if _, err := logrus.ParseLevel(cfg.ServerLogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", cfg.ServerLogLevel)
	}

	if cfg.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("sandbox.max_concurrent_jobs must be positive")
	}

	if cfg.MemoryLimitMB <= 0 {
		return fmt.Errorf("sandbox.memory_limit_mb must be positive")
	}

	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}

	if cfg.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}

	return nil
}

// GetBindAddress returns the complete "host:port" bind address.
func (c *Config) GetBindAddress() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// GetLogLevel returns the parsed logrus level, defaulting to Info.
func (c *Config) GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.ServerLogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// RuntimesDir is where installed runtimes live, under the turbo home.
func (c *Config) RuntimesDir() string {
	return filepath.Join(c.TurboHome, "runtimes")
}

// MetadataDBPath is the SQLite metadata store file location.
func (c *Config) MetadataDBPath() string {
	return filepath.Join(c.TurboHome, "turbo.db")
}

// CacheRoot is the compile cache root directory.
func (c *Config) CacheRoot() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("turbo-cache-%d", os.Getuid()))
}

// MemoryLimitBytes is the configured sandbox memory limit in bytes.
func (c *Config) MemoryLimitBytes() int64 {
	return int64(c.MemoryLimitMB) * 1024 * 1024
}

// GetIntEnv reads an integer environment variable, with a fallback.
func GetIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

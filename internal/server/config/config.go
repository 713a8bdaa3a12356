package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	MiB = 1024 * 1024
	GiB = 1024 * MiB

	// MaxExpirySeconds is the longest a share may live: seven days.
	MaxExpirySeconds = 7 * 24 * 3600
)

type Config struct {
	Port                 string        `mapstructure:"port"`
	BaseURL              string        `mapstructure:"base_url"`
	StoragePath          string        `mapstructure:"storage_path"`
	MaxFileSize          int64         `mapstructure:"max_file_size"`
	MaxTotalSize         int64         `mapstructure:"max_total_size"`
	ChunkSize            int           `mapstructure:"chunk_size"`
	DefaultExpirySeconds int           `mapstructure:"default_expiry_seconds"`
	MaxExpirySeconds     int           `mapstructure:"max_expiry_seconds"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	CleanupQueueSize     int           `mapstructure:"cleanup_queue_size"`
	RateLimitPerMinute   float64       `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst       int           `mapstructure:"rate_limit_burst"`
	DatabaseURL          string        `mapstructure:"database_url"`
	EncryptionKey        string        `mapstructure:"encryption_key"`
	LogLevel             string        `mapstructure:"log_level"`
}

// keys lists every setting; each is bound to the upper-cased environment
// variable of the same name.
var keys = []string{
	"port",
	"base_url",
	"storage_path",
	"max_file_size",
	"max_total_size",
	"chunk_size",
	"default_expiry_seconds",
	"max_expiry_seconds",
	"cleanup_interval",
	"cleanup_queue_size",
	"rate_limit_per_minute",
	"rate_limit_burst",
	"database_url",
	"encryption_key",
	"log_level",
}

// New returns a viper instance with defaults, environment bindings and the
// optional fileshare.yaml search paths configured.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range keys {
		_ = v.BindEnv(key, strings.ToUpper(key))
	}

	v.SetConfigName("fileshare")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	return v
}

// Load reads configuration from defaults, the optional config file and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFrom(New())
}

// LoadFrom builds a Config from a prepared viper instance, e.g. one with
// command-line flags bound.
func LoadFrom(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		slog.Info("using config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8000")
	v.SetDefault("base_url", "")
	v.SetDefault("storage_path", "./uploads")
	v.SetDefault("max_file_size", 500*MiB)
	v.SetDefault("max_total_size", 1*GiB)
	v.SetDefault("chunk_size", 1*MiB)
	v.SetDefault("default_expiry_seconds", 24*3600)
	v.SetDefault("max_expiry_seconds", MaxExpirySeconds)
	v.SetDefault("cleanup_interval", 30*time.Minute)
	v.SetDefault("cleanup_queue_size", 256)
	v.SetDefault("rate_limit_per_minute", 10)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("database_url", "")
	v.SetDefault("encryption_key", "")
	v.SetDefault("log_level", "info")
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Port == "" {
		problems = append(problems, "port must be set")
	}
	if c.StoragePath == "" {
		problems = append(problems, "storage_path must be set")
	}
	if c.MaxFileSize <= 0 {
		problems = append(problems, "max_file_size must be positive")
	}
	if c.MaxTotalSize < c.MaxFileSize {
		problems = append(problems, "max_total_size must be at least max_file_size")
	}
	if c.ChunkSize <= 0 {
		problems = append(problems, "chunk_size must be positive")
	}
	if c.MaxExpirySeconds < 1 || c.MaxExpirySeconds > MaxExpirySeconds {
		problems = append(problems, fmt.Sprintf("max_expiry_seconds must be between 1 and %d", MaxExpirySeconds))
	}
	if c.DefaultExpirySeconds < 1 || c.DefaultExpirySeconds > c.MaxExpirySeconds {
		problems = append(problems, "default_expiry_seconds must be between 1 and max_expiry_seconds")
	}
	if c.CleanupInterval < time.Second {
		problems = append(problems, "cleanup_interval must be at least 1s")
	}
	if c.RateLimitPerMinute < 0 || c.RateLimitBurst < 0 {
		problems = append(problems, "rate limits must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParseLogLevel maps the configured level name to a slog level.
func (c *Config) ParseLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config captures runtime configuration from defaults, an optional YAML file
// named by RAMPART_CONFIG and RAMPART_* environment variables, in that order.
type Config struct {
	Environment  string         `mapstructure:"environment"`
	HTTPPort     string         `mapstructure:"http_port"`
	DatabasePath string         `mapstructure:"db_path"`
	LogDir       string         `mapstructure:"log_dir"`
	FrontendDir  string         `mapstructure:"frontend_dir"`
	Debug        bool           `mapstructure:"debug"`
	Security     SecurityConfig `mapstructure:"security"`
}

// SecurityConfig configures the defense engine and its sinks.
type SecurityConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	RulesFile         string   `mapstructure:"rules_file"`
	StoreBackend      string   `mapstructure:"store"`
	RedisAddr         string   `mapstructure:"redis_addr"`
	RedisPassword     string   `mapstructure:"redis_password"`
	RedisDB           int      `mapstructure:"redis_db"`
	RedisPrefix       string   `mapstructure:"redis_prefix"`
	TrustProxyHeaders bool     `mapstructure:"trust_proxy_headers"`
	Allowlist         []string `mapstructure:"allowlist"`
	MaxBodyBytes      int64    `mapstructure:"max_body_bytes"`
	ArchiveEvents     bool     `mapstructure:"archive_events"`
	NotifyURLs        []string `mapstructure:"notify_urls"`
	NotifyPerMinute   int      `mapstructure:"notify_per_minute"`
}

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

var ErrInvalidStore = errors.New("security.store must be memory or redis")

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("http_port", "8080")
	v.SetDefault("db_path", filepath.Join("data", "rampart.db"))
	v.SetDefault("log_dir", filepath.Join("data", "logs"))
	v.SetDefault("frontend_dir", "")
	v.SetDefault("debug", false)

	v.SetDefault("security.enabled", true)
	v.SetDefault("security.rules_file", "")
	v.SetDefault("security.store", StoreMemory)
	v.SetDefault("security.redis_addr", "localhost:6379")
	v.SetDefault("security.redis_password", "")
	v.SetDefault("security.redis_db", 0)
	v.SetDefault("security.redis_prefix", "rampart:")
	v.SetDefault("security.trust_proxy_headers", true)
	v.SetDefault("security.allowlist", []string{})
	v.SetDefault("security.max_body_bytes", 1<<20)
	v.SetDefault("security.archive_events", true)
	v.SetDefault("security.notify_urls", []string{})
	v.SetDefault("security.notify_per_minute", 6)
}

// Load reads configuration and falls back to defaults so the server can boot
// with zero configuration.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RAMPART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("RAMPART_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Security.Allowlist = splitList(cfg.Security.Allowlist)
	cfg.Security.NotifyURLs = splitList(cfg.Security.NotifyURLs)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if cfg.Security.ArchiveEvents {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return Config{}, fmt.Errorf("ensure data directory: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks values viper cannot type-check.
func (c Config) Validate() error {
	switch c.Security.StoreBackend {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStore, c.Security.StoreBackend)
	}
	if c.Security.NotifyPerMinute < 0 {
		return errors.New("security.notify_per_minute must not be negative")
	}
	return nil
}

// splitList flattens comma separated entries, which is how lists arrive
// from environment variables.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

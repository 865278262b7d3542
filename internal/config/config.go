package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "TIREDD"

type Config struct {
	Addr             string        `mapstructure:"addr"`
	Store            string        `mapstructure:"store"`
	SQLitePath       string        `mapstructure:"sqlite_path"`
	PostgresDSN      string        `mapstructure:"postgres_dsn"`
	Ledger           string        `mapstructure:"ledger"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	ChallengeTTL     time.Duration `mapstructure:"challenge_ttl"`
	AutoRegister     bool          `mapstructure:"auto_register"`
	VoteDedupe       bool          `mapstructure:"vote_dedupe"`
	FeedScanLimit    int           `mapstructure:"feed_scan_limit"`
	FeedDefaultLimit int           `mapstructure:"feed_default_limit"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	CORSOrigin       string        `mapstructure:"cors_origin"`
	RateLimits       RateLimits    `mapstructure:"rate"`
}

type RateLimits struct {
	PostPerMinute    int `mapstructure:"post_per_minute"`
	CommentPerMinute int `mapstructure:"comment_per_minute"`
	VotePerMinute    int `mapstructure:"vote_per_minute"`
	LoginPerMinute   int `mapstructure:"login_per_minute"`
}

// SetDefaults registers every key so environment overrides are seen by
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	addr := ":8090"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	v.SetDefault("addr", addr)
	v.SetDefault("store", "memory")
	v.SetDefault("sqlite_path", "tiredd.db")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("ledger", "store")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("session_ttl", 720*time.Hour)
	v.SetDefault("challenge_ttl", 5*time.Minute)
	v.SetDefault("auto_register", true)
	v.SetDefault("vote_dedupe", true)
	v.SetDefault("feed_scan_limit", 1000)
	v.SetDefault("feed_default_limit", 100)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("rate.post_per_minute", 10)
	v.SetDefault("rate.comment_per_minute", 30)
	v.SetDefault("rate.vote_per_minute", 120)
	v.SetDefault("rate.login_per_minute", 20)
}

// Load reads defaults, the config file set on v (if any) and TIREDD_*
// environment variables, in increasing order of precedence.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	switch c.Ledger {
	case "store", "memory", "redis":
	default:
		return fmt.Errorf("config: unknown ledger %q", c.Ledger)
	}
	if c.Store == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("config: postgres_dsn is required for the postgres store")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: session_ttl must be positive")
	}
	if c.ChallengeTTL <= 0 {
		return fmt.Errorf("config: challenge_ttl must be positive")
	}
	if c.FeedScanLimit <= 0 || c.FeedDefaultLimit <= 0 {
		return fmt.Errorf("config: feed limits must be positive")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

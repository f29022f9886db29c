// Package config loads service configuration from the environment, with an
// optional .env file for local development. All components receive their
// settings through the Config struct; nothing reads process-wide state after
// startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config carries every tunable of the service.
type Config struct {
	Addr     string `mapstructure:"addr"`
	PGDSN    string `mapstructure:"pg_dsn"`
	LogLevel string `mapstructure:"log_level"`

	TokenSecret string        `mapstructure:"token_secret"`
	Issuer      string        `mapstructure:"issuer"`
	AccessTTL   time.Duration `mapstructure:"access_ttl"`
	RefreshTTL  time.Duration `mapstructure:"refresh_ttl"`

	// DefaultMode selects the authentication strategy used when a login
	// request does not name one ("onprem" or "saas").
	DefaultMode string `mapstructure:"default_mode"`

	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
	RateLimitPerSecond int           `mapstructure:"rate_limit_per_second"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

// Load reads SEGAUTH_* environment variables, after loading .env when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SEGAUTH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("issuer", "segauth")
	v.SetDefault("access_ttl", 15*time.Minute)
	v.SetDefault("refresh_ttl", 14*24*time.Hour)
	v.SetDefault("default_mode", "onprem")
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("rate_limit_per_second", 10)
	v.SetDefault("max_body_bytes", int64(1<<20))
	v.SetDefault("sweep_interval", time.Hour)

	keys := []string{
		"addr", "pg_dsn", "log_level", "token_secret", "issuer",
		"access_ttl", "refresh_ttl", "default_mode",
		"rate_limit_burst", "rate_limit_per_second", "max_body_bytes", "sweep_interval",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TokenSecret) == "" {
		return errors.New("config: token secret is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.DefaultMode)) {
	case "onprem", "saas":
	default:
		return fmt.Errorf("config: unsupported default mode %q", c.DefaultMode)
	}
	return nil
}

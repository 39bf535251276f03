// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values for optional configuration fields.
const (
	DefaultAddr            = ":20200"
	DefaultMaxMessageSize  = 4096
	DefaultSendQueueSize   = 256
	DefaultRateBurst       = 10
	DefaultRefillInterval  = time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"

	// MinRefillInterval is the shortest accepted rate_limit.refill_interval.
	MinRefillInterval = time.Millisecond
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Addr            string          `mapstructure:"addr"`
	AllowedOrigins  []string        `mapstructure:"allowed_origins"`
	MaxMessageSize  int64           `mapstructure:"max_message_size"`
	SendQueueSize   int             `mapstructure:"send_queue_size"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	Admins          []string        `mapstructure:"admins"`
	AdminRPC        bool            `mapstructure:"admin_rpc"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	Log             LogConfig       `mapstructure:"log"`
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() Config {
	return Config{
		Addr:            DefaultAddr,
		AllowedOrigins:  []string{"http://localhost:20200"},
		MaxMessageSize:  DefaultMaxMessageSize,
		SendQueueSize:   DefaultSendQueueSize,
		RateLimit:       RateLimitConfig{Burst: DefaultRateBurst, RefillInterval: DefaultRefillInterval},
		AdminRPC:        true,
		ShutdownTimeout: DefaultShutdownTimeout,
		Log:             LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// SetDefaults registers every configuration key with its default on v, so
// that environment variables are picked up for keys absent from a file.
func SetDefaults(v *viper.Viper) {
	d := NewConfig()
	v.SetDefault("addr", d.Addr)
	v.SetDefault("allowed_origins", d.AllowedOrigins)
	v.SetDefault("max_message_size", d.MaxMessageSize)
	v.SetDefault("send_queue_size", d.SendQueueSize)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", d.RateLimit.RefillInterval)
	v.SetDefault("admins", d.Admins)
	v.SetDefault("admin_rpc", d.AdminRPC)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadConfig decodes v into a Config, replaces unusable values with
// defaults and validates the result.
func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg = sanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func sanitizeConfig(cfg Config) Config {
	d := NewConfig()
	if cfg.Addr == "" {
		cfg.Addr = d.Addr
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = d.MaxMessageSize
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = d.SendQueueSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = d.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	cfg.Admins = trimAll(cfg.Admins)
	return cfg
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate reports configuration that cannot be repaired with defaults.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid addr %q: %w", c.Addr, err)
	}
	if c.RateLimit.RefillInterval < MinRefillInterval {
		return fmt.Errorf("invalid rate_limit.refill_interval %v: must be at least %v (use a unit such as 1s)",
			c.RateLimit.RefillInterval, MinRefillInterval)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: want text or json", c.Log.Format)
	}
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

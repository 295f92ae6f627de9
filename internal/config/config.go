package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	HTTPAddr          string        `mapstructure:"http_addr" yaml:"http_addr"`
	MaxFrameBytes     int           `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes"`
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	ChatRateLimit     int           `mapstructure:"chat_rate_limit" yaml:"chat_rate_limit"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	// DatabasePath is the SQLite call journal. Empty disables journaling.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":50000",
		HTTPAddr:          ":8080",
		MaxFrameBytes:     4 << 20,
		ConfirmTimeout:    30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.HTTPAddr != "" {
		c.HTTPAddr = other.HTTPAddr
	}
	if other.MaxFrameBytes != 0 {
		c.MaxFrameBytes = other.MaxFrameBytes
	}
	if other.ConfirmTimeout != 0 {
		c.ConfirmTimeout = other.ConfirmTimeout
	}
	if other.ChatRateLimit != 0 {
		c.ChatRateLimit = other.ChatRateLimit
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	switch {
	case c.Addr == "" && c.HTTPAddr == "":
		return errNoListener
	case c.MaxFrameBytes <= 0:
		return errFrameLimit
	case c.ConfirmTimeout < 0 || c.ShutdownTimeout < 0 || c.ReadHeaderTimeout < 0:
		return errNegativeTimeout
	case c.ChatRateLimit < 0:
		return errRateLimit
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "WIRERELAY"
	envConfigDefaultPath = "WIRERELAY_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

var (
	errNoListener      = errors.New("config: addr and http_addr are both empty")
	errFrameLimit      = errors.New("config: max_frame_bytes must be positive")
	errNegativeTimeout = errors.New("config: timeouts must not be negative")
	errRateLimit       = errors.New("config: chat_rate_limit must not be negative")
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("http_addr", cfg.HTTPAddr)
	v.SetDefault("max_frame_bytes", cfg.MaxFrameBytes)
	v.SetDefault("confirm_timeout", cfg.ConfirmTimeout)
	v.SetDefault("chat_rate_limit", cfg.ChatRateLimit)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("database_path", cfg.DatabasePath)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, configPath, err
	}

	return cfg, configPath, nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

// writeDefaultConfig stores cfg as YAML. Durations are written in their
// string form so the file stays readable and round-trips through viper.
func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(fileConfig{
		Addr:              cfg.Addr,
		HTTPAddr:          cfg.HTTPAddr,
		MaxFrameBytes:     cfg.MaxFrameBytes,
		ConfirmTimeout:    cfg.ConfirmTimeout.String(),
		ChatRateLimit:     cfg.ChatRateLimit,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout.String(),
		ShutdownTimeout:   cfg.ShutdownTimeout.String(),
		LogLevel:          cfg.LogLevel,
		DatabasePath:      cfg.DatabasePath,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

type fileConfig struct {
	Addr              string `yaml:"addr"`
	HTTPAddr          string `yaml:"http_addr"`
	MaxFrameBytes     int    `yaml:"max_frame_bytes"`
	ConfirmTimeout    string `yaml:"confirm_timeout"`
	ChatRateLimit     int    `yaml:"chat_rate_limit"`
	ReadHeaderTimeout string `yaml:"read_header_timeout"`
	ShutdownTimeout   string `yaml:"shutdown_timeout"`
	LogLevel          string `yaml:"log_level"`
	DatabasePath      string `yaml:"database_path"`
}

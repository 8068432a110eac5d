// Package config provides configuration for the IPTV console client.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/savid/iptv-console/internal/guide"
	"github.com/savid/iptv-console/internal/state"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. IPTV_CONSOLE_PASSWORD.
const EnvPrefix = "IPTV_CONSOLE"

// Config holds the application configuration.
type Config struct {
	// Required
	ConsoleURL string `mapstructure:"console"`
	Password   string `mapstructure:"password"`

	// Control API
	BindAddr string `mapstructure:"bind"`
	Port     int    `mapstructure:"port"`

	// Logging
	LogLevel string `mapstructure:"log-level"`
	LogFile  string `mapstructure:"log-file"`

	// Session
	StatePath         string        `mapstructure:"state-path"`
	Players           []string      `mapstructure:"players"`
	RequestTimeout    time.Duration `mapstructure:"request-timeout"`
	ManifestTimeout   time.Duration `mapstructure:"manifest-timeout"`
	RequestsPerSecond float64       `mapstructure:"rps"`
	RefreshInterval   time.Duration `mapstructure:"refresh"`

	// View defaults used until settings are persisted
	GuideDays int    `mapstructure:"days"`
	Protocol  string `mapstructure:"protocol"`
	SortBy    string `mapstructure:"sort-by"`
	SortOrder string `mapstructure:"sort-order"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	statePath := "iptv-console.db"
	if dir, err := os.UserConfigDir(); err == nil {
		statePath = filepath.Join(dir, "iptv-console", "state.db")
	}

	return &Config{
		BindAddr:          "127.0.0.1",
		Port:              8090,
		LogLevel:          "info",
		StatePath:         statePath,
		RequestTimeout:    5 * time.Second,
		ManifestTimeout:   5 * time.Second,
		RequestsPerSecond: 5,
		GuideDays:         state.MinWindowDays,
		Protocol:          guide.ProtocolHLS,
		SortBy:            "number",
		SortOrder:         "asc",
	}
}

// RegisterFlags adds every configuration flag to fs with the defaults of cfg.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.String("config", "", "Config file (TOML, YAML or JSON)")
	fs.String("env-file", ".env", "Environment file loaded before reading configuration")

	fs.String("console", cfg.ConsoleURL, "IPTV proxy console URL (required)")
	fs.String("password", cfg.Password, "Console password")

	fs.String("bind", cfg.BindAddr, "Control API bind address")
	fs.Int("port", cfg.Port, "Control API port")

	fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("log-file", cfg.LogFile, "Rotating log file")

	fs.String("state-path", cfg.StatePath, "View settings database")
	fs.StringSlice("players", cfg.Players, "Media player commands tried in order")
	fs.Duration("request-timeout", cfg.RequestTimeout, "Timeout of console API calls")
	fs.Duration("manifest-timeout", cfg.ManifestTimeout, "Timeout of stream manifest downloads")
	fs.Float64("rps", cfg.RequestsPerSecond, "Console requests per second")
	fs.Duration("refresh", cfg.RefreshInterval, "Guide refresh interval (0 disables)")

	fs.Int("days", cfg.GuideDays, "Default guide window in days")
	fs.String("protocol", cfg.Protocol, "Default streaming protocol (hls, rtmp)")
	fs.String("sort-by", cfg.SortBy, "Default channel sort (number, name)")
	fs.String("sort-order", cfg.SortOrder, "Default sort order (asc, desc)")
}

// Load resolves the configuration from defaults, the env file, the config file,
// the environment and fs, in increasing precedence.
func Load(fs *pflag.FlagSet) (*Config, error) {
	envFile, _ := fs.GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("bind", defaults.BindAddr)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("log-level", defaults.LogLevel)
	v.SetDefault("state-path", defaults.StatePath)
	v.SetDefault("request-timeout", defaults.RequestTimeout)
	v.SetDefault("manifest-timeout", defaults.ManifestTimeout)
	v.SetDefault("rps", defaults.RequestsPerSecond)
	v.SetDefault("days", defaults.GuideDays)
	v.SetDefault("protocol", defaults.Protocol)
	v.SetDefault("sort-by", defaults.SortBy)
	v.SetDefault("sort-order", defaults.SortOrder)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configPath, _ := fs.GetString("config"); configPath != "" {
		v.SetConfigFile(configPath)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ConsoleURL == "" {
		return errors.New("--console is required")
	}

	u, err := url.Parse(c.ConsoleURL)
	if err != nil {
		return fmt.Errorf("invalid console URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("console URL must be http or https, got %q", c.ConsoleURL)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.StatePath == "" {
		return errors.New("--state-path is required")
	}

	if c.RequestTimeout <= 0 || c.ManifestTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}

	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %v", c.RequestsPerSecond)
	}

	if c.RefreshInterval < 0 {
		return errors.New("refresh interval cannot be negative")
	}

	if _, err := c.DefaultView(); err != nil {
		return err
	}

	return nil
}

// ListenAddr returns the full listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.Port)
}

// DefaultView returns the view settings used when none are persisted.
func (c *Config) DefaultView() (state.ViewState, error) {
	criteria, err := guide.ParseSortCriteria(c.SortBy)
	if err != nil {
		return state.ViewState{}, fmt.Errorf("invalid --sort-by: %w", err)
	}

	order, err := guide.ParseSortOrder(c.SortOrder)
	if err != nil {
		return state.ViewState{}, fmt.Errorf("invalid --sort-order: %w", err)
	}

	v := state.ViewState{
		SortCriteria:    criteria,
		SortOrder:       order,
		GuideWindowDays: c.GuideDays,
		Protocol:        strings.ToLower(c.Protocol),
	}

	if err := v.Validate(); err != nil {
		return state.ViewState{}, fmt.Errorf("invalid default view settings: %w", err)
	}

	return v, nil
}

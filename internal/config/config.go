// Package config loads client settings from defaults, a YAML file and
// REMOTEIDE_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	CorrelationID   = "id"
	CorrelationNext = "next"
)

type Config struct {
	ServerURL      string        `mapstructure:"server_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ChangeDebounce time.Duration `mapstructure:"change_debounce"`
	SearchDebounce time.Duration `mapstructure:"search_debounce"`
	SearchMinQuery int           `mapstructure:"search_min_query"`
	TerminalCols   int           `mapstructure:"terminal_cols"`
	TerminalRows   int           `mapstructure:"terminal_rows"`

	// CompletionDebounce is how long the cursor rests before completions
	// are requested.
	CompletionDebounce time.Duration `mapstructure:"completion_debounce"`

	// Correlation is "id" to match replies by correlation id, or "next"
	// for servers that only answer in order.
	Correlation string `mapstructure:"correlation"`
	StatePath   string `mapstructure:"state_path"`
	LogLevel    string `mapstructure:"log_level"`

	ConfigPath string `mapstructure:"-"`
}

// fileConfig is the on-disk shape written by Save.
type fileConfig struct {
	ServerURL          string `yaml:"server_url"`
	Token              string `yaml:"token,omitempty"`
	RequestTimeout     string `yaml:"request_timeout"`
	ChangeDebounce     string `yaml:"change_debounce"`
	SearchDebounce     string `yaml:"search_debounce"`
	CompletionDebounce string `yaml:"completion_debounce"`
	SearchMinQuery     int    `yaml:"search_min_query"`
	TerminalCols       int    `yaml:"terminal_cols"`
	TerminalRows       int    `yaml:"terminal_rows"`
	Correlation        string `yaml:"correlation"`
	StatePath          string `yaml:"state_path"`
	LogLevel           string `yaml:"log_level"`
}

func configDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "remoteide"), nil
}

// DefaultConfigPath is ~/.config/remoteide/config.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func Default() (Config, error) {
	dir, err := configDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ServerURL:          "ws://127.0.0.1:8080/ws",
		RequestTimeout:     5 * time.Second,
		ChangeDebounce:     300 * time.Millisecond,
		SearchDebounce:     300 * time.Millisecond,
		CompletionDebounce: 150 * time.Millisecond,
		SearchMinQuery:     2,
		TerminalCols:       80,
		TerminalRows:       24,
		Correlation:        CorrelationID,
		StatePath:          filepath.Join(dir, "state.db"),
		LogLevel:           "info",
		ConfigPath:         filepath.Join(dir, "config.yaml"),
	}, nil
}

// Load reads configuration from path, or DefaultConfigPath when path is
// empty. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		path = cfg.ConfigPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REMOTEIDE")
	v.AutomaticEnv()
	v.SetDefault("server_url", cfg.ServerURL)
	v.SetDefault("token", cfg.Token)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("change_debounce", cfg.ChangeDebounce)
	v.SetDefault("search_debounce", cfg.SearchDebounce)
	v.SetDefault("completion_debounce", cfg.CompletionDebounce)
	v.SetDefault("search_min_query", cfg.SearchMinQuery)
	v.SetDefault("terminal_cols", cfg.TerminalCols)
	v.SetDefault("terminal_rows", cfg.TerminalRows)
	v.SetDefault("correlation", cfg.Correlation)
	v.SetDefault("state_path", cfg.StatePath)
	v.SetDefault("log_level", cfg.LogLevel)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to load config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ConfigPath = path
	cfg.StatePath = os.ExpandEnv(cfg.StatePath)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("invalid server_url %q: must be a ws:// or wss:// URL", c.ServerURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request_timeout %s: must be positive", c.RequestTimeout)
	}
	if c.ChangeDebounce < 0 || c.SearchDebounce < 0 || c.CompletionDebounce < 0 {
		return fmt.Errorf("debounce intervals must not be negative")
	}
	if c.SearchMinQuery < 1 {
		return fmt.Errorf("invalid search_min_query %d: must be at least 1", c.SearchMinQuery)
	}
	if c.TerminalCols < 1 || c.TerminalRows < 1 {
		return fmt.Errorf("invalid terminal size %dx%d", c.TerminalCols, c.TerminalRows)
	}
	switch c.Correlation {
	case CorrelationID, CorrelationNext:
	default:
		return fmt.Errorf("invalid correlation %q: must be %q or %q", c.Correlation, CorrelationID, CorrelationNext)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return level, nil
}

// Save writes c to c.ConfigPath. The file holds the token, so it is only
// readable by the owner.
func Save(c Config) error {
	if c.ConfigPath == "" {
		return fmt.Errorf("config path is empty")
	}
	data, err := yaml.Marshal(fileConfig{
		ServerURL:          c.ServerURL,
		Token:              c.Token,
		RequestTimeout:     c.RequestTimeout.String(),
		ChangeDebounce:     c.ChangeDebounce.String(),
		SearchDebounce:     c.SearchDebounce.String(),
		CompletionDebounce: c.CompletionDebounce.String(),
		SearchMinQuery:     c.SearchMinQuery,
		TerminalCols:       c.TerminalCols,
		TerminalRows:       c.TerminalRows,
		Correlation:        c.Correlation,
		StatePath:          c.StatePath,
		LogLevel:           c.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.ConfigPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.ConfigPath, data, 0600)
}

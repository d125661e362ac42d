package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	Listen      string        `yaml:"listen"`
	LogLevel    string        `yaml:"log_level"`
	MaxEvents   int           `yaml:"max_events"`
	MaxConns    int           `yaml:"max_conns"`
	Tombstones  int           `yaml:"tombstones"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	Console     Console       `yaml:"console"`
}

type Console struct {
	Enabled     bool   `yaml:"enabled"`
	HistoryFile string `yaml:"history_file"`
	Prompt      string `yaml:"prompt"`
}

const (
	DefaultListen      = ":7070"
	DefaultHistoryFile = ".fdwatch_history"
)

func Default() *Config {
	return &Config{
		Listen:      DefaultListen,
		LogLevel:    "info",
		MaxEvents:   128,
		Tombstones:  256,
		WaitTimeout: -1,
		Console: Console{
			Enabled:     true,
			HistoryFile: DefaultHistoryFile,
			Prompt:      "fdwatch> ",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("listen address is empty")
	case c.MaxEvents <= 0:
		return fmt.Errorf("max_events must be positive, got %d", c.MaxEvents)
	case c.MaxConns < 0:
		return fmt.Errorf("max_conns must not be negative, got %d", c.MaxConns)
	case c.Tombstones < 0:
		return fmt.Errorf("tombstones must not be negative, got %d", c.Tombstones)
	case c.WaitTimeout == 0:
		// a zero wait never blocks and turns the loop into a busy poll
		return errors.New("wait_timeout must not be zero, use a negative value to wait for events")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a string in TOML, e.g. "30s"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// TomlBackend holds the analysis backend connection settings
type TomlBackend struct {
	URL       string   `toml:"url" yaml:"url"`
	Timeout   Duration `toml:"timeout" yaml:"timeout"`
	UserAgent string   `toml:"user_agent" yaml:"user_agent"`
}

// TomlPoll configures the background refresh loop
type TomlPoll struct {
	Interval     Duration `toml:"interval" yaml:"interval"`
	CycleTimeout Duration `toml:"cycle_timeout" yaml:"cycle_timeout"`
}

// TomlServer configures the HTTP server
type TomlServer struct {
	Port         int    `toml:"port" yaml:"port"`
	AllowOrigins string `toml:"allow_origins" yaml:"allow_origins"`
}

// TomlLog configures logging
type TomlLog struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // text or json
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Backend TomlBackend `toml:"backend" yaml:"backend"`
	Poll    TomlPoll    `toml:"poll" yaml:"poll"`
	Server  TomlServer  `toml:"server" yaml:"server"`
	Log     TomlLog     `toml:"log" yaml:"log"`
}

// Default returns the configuration used when no file is given
func Default() *TomlConfig {
	return &TomlConfig{
		Backend: TomlBackend{
			URL:       "http://127.0.0.1:8000",
			Timeout:   Duration{30 * time.Second},
			UserAgent: "insightfeed",
		},
		Poll: TomlPoll{
			Interval:     Duration{30 * time.Second},
			CycleTimeout: Duration{60 * time.Second},
		},
		Server: TomlServer{
			Port:         3000,
			AllowOrigins: "http://localhost:3001",
		},
		Log: TomlLog{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads path on top of the defaults. Files ending in .yaml or .yml
// are read as YAML, everything else as TOML. An empty path returns the defaults.
func LoadConfig(path string) (*TomlConfig, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = toml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return config, nil
}

// Validate checks values that would make the service misbehave
func (c *TomlConfig) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if c.Poll.Interval.Duration <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	if c.Poll.CycleTimeout.Duration < 0 {
		return fmt.Errorf("poll.cycle_timeout must not be negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

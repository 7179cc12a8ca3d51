// Package config loads the tlcrun settings file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"tlcrun/internal/command"
)

// Config is the content of config.yaml.
type Config struct {
	Java  Java  `yaml:"java"`
	TLC   TLC   `yaml:"tlc"`
	Serve Serve `yaml:"serve"`
	Log   Log   `yaml:"log"`
}

type Java struct {
	// Home selects $home/bin/java; empty means java from PATH.
	Home    string   `yaml:"home"`
	Options []string `yaml:"options,omitempty"`
}

type TLC struct {
	ToolsJar string   `yaml:"tools_jar"`
	Options  []string `yaml:"options,omitempty"`
	Env      []string `yaml:"env,omitempty"`
	// CreateOutFiles mirrors stdout to <spec>.out next to the specification.
	CreateOutFiles bool `yaml:"create_out_files"`
	// Transcript writes <spec>.transcript with all streams and timestamps.
	Transcript  bool          `yaml:"transcript"`
	PTY         bool          `yaml:"pty"`
	GracePeriod time.Duration `yaml:"grace_period"`
	// Sentinel overrides the token around message markers.
	Sentinel string `yaml:"sentinel,omitempty"`
}

type Serve struct {
	Addr string `yaml:"addr"`
	// Token protects the live view. Empty generates a random token per start.
	Token string `yaml:"token,omitempty"`
	// UpdateInterval limits how often progress updates are pushed to clients.
	UpdateInterval time.Duration `yaml:"update_interval"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		TLC: TLC{
			ToolsJar:       os.Getenv("TLA2TOOLS_JAR"),
			CreateOutFiles: true,
			GracePeriod:    10 * time.Second,
		},
		Serve: Serve{Addr: "127.0.0.1:8421", UpdateInterval: 500 * time.Millisecond},
		Log:   Log{Level: "info"},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/tlcrun/config.yaml or its platform equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user config directory: %w", err)
	}
	return filepath.Join(dir, "tlcrun", "config.yaml"), nil
}

// Load reads path on top of the defaults. A missing file is an error only when
// explicit is set.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be checked by the YAML decoder.
func (c Config) Validate() error {
	if c.TLC.GracePeriod < 0 {
		return fmt.Errorf("tlc.grace_period must not be negative, got %s", c.TLC.GracePeriod)
	}
	if c.Serve.UpdateInterval < 0 {
		return fmt.Errorf("serve.update_interval must not be negative, got %s", c.Serve.UpdateInterval)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Write stores cfg at path, creating the directory.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// SlogLevel parses the log level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}

// Command returns the TLC command builder for these settings.
func (c Config) Command() command.TLC {
	return command.TLC{
		JavaHome:    c.Java.Home,
		JavaOptions: c.Java.Options,
		Options:     c.TLC.Options,
		ToolsJar:    c.TLC.ToolsJar,
		Env:         c.TLC.Env,
	}
}

// Package config loads the bridge's settings.
//
// Values are layered: built-in defaults, then the YAML file named by
// LINUX_ENTRA_SSO_CONFIG (or $XDG_CONFIG_HOME/linux-entra-sso/config.yaml),
// then individual LINUX_ENTRA_SSO_* environment variables. A missing file is
// not an error; the browser starts the bridge without any setup.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// PathEnv names the variable overriding the config file location.
const PathEnv = "LINUX_ENTRA_SSO_CONFIG"

// Config holds the bridge settings.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"LINUX_ENTRA_SSO_LOG_LEVEL"`

	// ConnectTimeout bounds how long a command waits for the broker to
	// become reachable.
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"LINUX_ENTRA_SSO_CONNECT_TIMEOUT"`

	// ConnectRetryInterval is the pause between connect attempts.
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval" env:"LINUX_ENTRA_SSO_CONNECT_RETRY_INTERVAL"`

	// CallTimeout bounds a single broker call.
	CallTimeout time.Duration `yaml:"call_timeout" env:"LINUX_ENTRA_SSO_CALL_TIMEOUT"`

	// SsoURL replaces the default target of acquirePrtSsoCookie requests
	// that do not name one.
	SsoURL string `yaml:"sso_url" env:"LINUX_ENTRA_SSO_URL"`

	// Mock serves fixed test accounts instead of talking to the broker.
	Mock bool `yaml:"mock" env:"LINUX_ENTRA_SSO_MOCK"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		LogLevel:             "info",
		ConnectTimeout:       3 * time.Second,
		ConnectRetryInterval: 100 * time.Millisecond,
		CallTimeout:          30 * time.Second,
	}
}

// Path returns the config file location.
func Path() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "linux-entra-sso", "config.yaml")
}

// Load layers the file at path (if any) and the environment over the
// defaults. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate reports settings the bridge cannot run with.
func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.ConnectRetryInterval <= 0 {
		return fmt.Errorf("connect_retry_interval must be positive, got %s", c.ConnectRetryInterval)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative, got %s", c.CallTimeout)
	}
	if c.SsoURL != "" && !strings.HasPrefix(c.SsoURL, "https://") {
		return fmt.Errorf("sso_url must be an https URL, got %q", c.SsoURL)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

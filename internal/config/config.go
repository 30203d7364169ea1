package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds sshim's ambient defaults. DefaultTimeoutSeconds and
// RecordDir match cmd/sshim's --timeout and --record-dir flags, and the
// file only supplies those when the option still holds its built-in
// default (10 seconds, empty). MaxSpawnAttempts and TransportOptions
// have no command-line flag.
type Config struct {
	// DefaultTimeoutSeconds bounds the handshake reads on the sock.1/sock.2
	// control lines when --timeout is not given on the command line.
	DefaultTimeoutSeconds int `yaml:"defaultTimeoutSeconds"`

	// MaxSpawnAttempts overrides the retry ceiling for re-launching the
	// remote proxy after the transport client exits (defaults to 5 when
	// zero or unset).
	MaxSpawnAttempts int `yaml:"maxSpawnAttempts"`

	// RecordDir, when set, is passed to the daemon as the default
	// --record-dir for the diagnostic transcript feature.
	RecordDir string `yaml:"recordDir,omitempty"`

	// TransportOptions maps a transport client binary name (e.g. "ssh", or
	// a site-specific wrapper) to the extra value-taking and value-less
	// option letters it accepts, extending the built-in table in
	// internal/relay/transportargs.go for transports other than the
	// canonical ssh-shaped one.
	TransportOptions map[string]TransportOptionSet `yaml:"transportOptions,omitempty"`
}

// TransportOptionSet extends the recognized-option tables used to split a
// transport client's own flags from the trailing host/command for one named
// transport binary.
type TransportOptionSet struct {
	ValueFlags []string `yaml:"valueFlags,omitempty"`
	BoolFlags  []string `yaml:"boolFlags,omitempty"`
}

// Timeout returns the configured default timeout, or fallback when the
// config is nil or the field is unset.
func (c *Config) Timeout(fallback time.Duration) time.Duration {
	if c == nil || c.DefaultTimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// SpawnAttempts returns the configured retry ceiling, or fallback when the
// config is nil or the field is unset.
func (c *Config) SpawnAttempts(fallback int) int {
	if c == nil || c.MaxSpawnAttempts <= 0 {
		return fallback
	}
	return c.MaxSpawnAttempts
}

// Transport looks up the extra option set registered for a transport binary
// name. The bool result is false when nothing was configured for it.
func (c *Config) Transport(name string) (TransportOptionSet, bool) {
	if c == nil || c.TransportOptions == nil {
		return TransportOptionSet{}, false
	}
	opts, ok := c.TransportOptions[name]
	return opts, ok
}

// Load decodes sshim's config file. Missing files return (nil, nil) so
// callers (bootstrap.go's applyConfigDefaults) can treat "no config"
// and "empty config" identically without a separate existence check.
func Load(path string) (*Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	expanded, err := expandPath(trimmed)
	if err != nil {
		return nil, fmt.Errorf("sshim: resolve config path %q: %w", trimmed, err)
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sshim: read config %q: %w", expanded, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("sshim: parse config %q: %w", expanded, err)
	}
	return &cfg, nil
}

// Save writes the config to disk, creating parent directories if
// needed. Used by cmd/sshim-ctl's config subcommand, never by sshim
// itself (which only ever reads defaults, per applyConfigDefaults).
func (c *Config) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("sshim: config path is required")
	}
	if c == nil {
		return fmt.Errorf("sshim: cannot save a nil config")
	}
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("sshim: resolve config path %q: %w", path, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("sshim: marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("sshim: create config directory: %w", err)
	}
	// 0o600: the file may hold TransportOptions naming site-specific
	// transport wrapper flags, no reason to make that world-readable.
	if err := os.WriteFile(expanded, data, 0o600); err != nil {
		return fmt.Errorf("sshim: write config %q: %w", expanded, err)
	}
	return nil
}

// expandPath resolves ~-prefixed and relative sshim config paths
// (SSHIM_CONFIG, --config) against the user's home directory or the
// current working directory, the same way paths.go's DefaultConfigDir
// resolves the default config location.
func expandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		return os.UserHomeDir()
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}

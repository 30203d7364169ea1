// Package config loads sshim's optional ambient defaults file. Nothing here
// is required by the protocol in internal/relay; a command-line flag that
// sets a non-default value wins over the file.
package config

import (
	"os"
	"path/filepath"
)

// DefaultConfigDir returns the directory sshim looks in for its config
// file, honoring SSHIM_HOME for test isolation and containerized setups.
func DefaultConfigDir() string {
	if v := os.Getenv("SSHIM_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".sshim")
}

// DefaultConfigPath returns DefaultConfigDir()/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

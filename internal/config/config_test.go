package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsNilNil(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadEmptyPathReturnsNilNil(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{
		DefaultTimeoutSeconds: 15,
		MaxSpawnAttempts:      3,
		RecordDir:             "/var/log/sshim",
		TransportOptions: map[string]TransportOptionSet{
			"corp-ssh": {ValueFlags: []string{"Z"}, BoolFlags: []string{"Q"}},
		},
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 15, loaded.DefaultTimeoutSeconds)
	assert.Equal(t, 3, loaded.MaxSpawnAttempts)
	assert.Equal(t, "/var/log/sshim", loaded.RecordDir)

	opts, ok := loaded.Transport("corp-ssh")
	require.True(t, ok)
	assert.Equal(t, []string{"Z"}, opts.ValueFlags)
	assert.Equal(t, []string{"Q"}, opts.BoolFlags)

	_, ok = loaded.Transport("unknown")
	assert.False(t, ok)
}

func TestConfigTimeoutFallback(t *testing.T) {
	var cfg *Config
	assert.Equal(t, 10*time.Second, cfg.Timeout(10*time.Second))

	cfg = &Config{}
	assert.Equal(t, 10*time.Second, cfg.Timeout(10*time.Second), "zero value falls back")

	cfg = &Config{DefaultTimeoutSeconds: 30}
	assert.Equal(t, 30*time.Second, cfg.Timeout(10*time.Second))
}

func TestConfigSpawnAttemptsFallback(t *testing.T) {
	var cfg *Config
	assert.Equal(t, 5, cfg.SpawnAttempts(5))

	cfg = &Config{MaxSpawnAttempts: 8}
	assert.Equal(t, 8, cfg.SpawnAttempts(5))
}

func TestExpandPathTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := "~/cfg.yaml"
	cfg := &Config{DefaultTimeoutSeconds: 1}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.FileExists(t, filepath.Join(home, "cfg.yaml"))
}

func TestSaveRequiresPath(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Save(""))
}

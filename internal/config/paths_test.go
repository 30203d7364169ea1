package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigPathHonorsSSHIMHome(t *testing.T) {
	t.Setenv("SSHIM_HOME", "/custom/sshim/home")
	assert.Equal(t, "/custom/sshim/home", DefaultConfigDir())
	assert.Equal(t, filepath.Join("/custom/sshim/home", "config.yaml"), DefaultConfigPath())
}

func TestDefaultConfigDirFallsBackToHomeDir(t *testing.T) {
	t.Setenv("SSHIM_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available in this environment")
	}
	assert.Equal(t, filepath.Join(home, ".sshim"), DefaultConfigDir())
}

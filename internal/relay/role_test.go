package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectRoleLocal(t *testing.T) {
	opts, err := DetectRole([]string{"ssh", "-p", "2222", "host.example.com", "sh", "-c", "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, RoleLocal, opts.Role)
	assert.Equal(t, "ssh", opts.Transport)
	assert.Equal(t, []string{"-p", "2222"}, opts.TransportArgs)
	assert.Equal(t, "host.example.com", opts.Host)
	assert.Equal(t, []string{"sh", "-c", "echo hi"}, opts.Command)
	assert.Equal(t, defaultTimeoutSeconds, opts.Timeout)
}

func TestDetectRoleLocalMissingCommand(t *testing.T) {
	_, err := DetectRole([]string{"ssh", "host.example.com"})
	assert.Error(t, err)
}

func TestDetectRoleLocalMissingTransport(t *testing.T) {
	_, err := DetectRole([]string{})
	assert.Error(t, err)
}

func TestDetectRoleRemoteFirst(t *testing.T) {
	opts, err := DetectRole([]string{"--remote", "--try=1", "--timeout=5", "mycommand", "arg1"})
	require.NoError(t, err)
	assert.Equal(t, RoleRemoteFirst, opts.Role)
	assert.Equal(t, 1, opts.Try)
	assert.Equal(t, 5, opts.Timeout)
	assert.Equal(t, []string{"mycommand", "arg1"}, opts.Command)
}

func TestDetectRoleRemoteResume(t *testing.T) {
	opts, err := DetectRole([]string{"--remote", "--sockdir=/tmp/sshim-abc", "--try=2", "mycommand"})
	require.NoError(t, err)
	assert.Equal(t, RoleRemoteResume, opts.Role)
	assert.Equal(t, "/tmp/sshim-abc", opts.SockDir)
	assert.Equal(t, 2, opts.Try)
}

func TestDetectRoleDaemonInternal(t *testing.T) {
	opts, err := DetectRole([]string{"--remote", "--daemon-internal", "--sockdir=/tmp/sshim-abc", "mycommand"})
	require.NoError(t, err)
	assert.Equal(t, RoleDaemon, opts.Role)
}

func TestDetectRoleHelp(t *testing.T) {
	opts, err := DetectRole([]string{"-h"})
	require.NoError(t, err)
	assert.True(t, opts.Help)

	opts, err = DetectRole([]string{"--help"})
	require.NoError(t, err)
	assert.True(t, opts.Help)
}

func TestDetectRoleSessionAndRecordDir(t *testing.T) {
	opts, err := DetectRole([]string{"--remote", "--session=abc-123", "--record-dir=/var/log/sshim", "cmd"})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", opts.SessionID)
	assert.Equal(t, "/var/log/sshim", opts.RecordDir)
}

func TestDetectRoleBadTryValue(t *testing.T) {
	_, err := DetectRole([]string{"--remote", "--try=notanumber", "cmd"})
	assert.Error(t, err)
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "local", RoleLocal.String())
	assert.Equal(t, "remote-first", RoleRemoteFirst.String())
	assert.Equal(t, "remote-resume", RoleRemoteResume.String())
	assert.Equal(t, "daemon", RoleDaemon.String())
}

package relay

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// SockDir owns the pair of local-domain stream sockets D listens on
// (spec §3): sock.1 carries streams 0 and 1, sock.2 carries stream 2 and
// the reverse finack channel. The directory is created by R's first
// incarnation, the sockets in it by D; R connects to them, and D removes
// the directory on clean daemon exit.
//
// Grounded loosely on the atomic-temp-directory shape used by the
// pack's launcher re-exec support — the "create under the system temp
// area with a random suffix, remove on the way out" pattern, not any
// specific reused code (that repo is not the teacher).
type SockDir struct {
	Path string
}

const sockDirPattern = "sshim-*"

// NewSockDir creates a fresh sockdir under the system temp directory
// named "sshim-XXXXXXXX" (spec §3, §6).
func NewSockDir() (*SockDir, error) {
	path, err := os.MkdirTemp("", sockDirPattern)
	if err != nil {
		return nil, fmt.Errorf("relay: create sockdir: %w", err)
	}
	return &SockDir{Path: path}, nil
}

// OpenSockDir wraps a sockdir path an R incarnation was told about via
// --sockdir, without creating anything.
func OpenSockDir(path string) *SockDir {
	return &SockDir{Path: path}
}

// Sock1 returns the path to the stream-0/1 socket.
func (d *SockDir) Sock1() string { return filepath.Join(d.Path, "sock.1") }

// Sock2 returns the path to the stream-2/finack socket.
func (d *SockDir) Sock2() string { return filepath.Join(d.Path, "sock.2") }

// Listen creates both listening sockets. Called by D at the start of
// Daemon.Run, before it starts the user command.
func (d *SockDir) Listen() (sock1, sock2 net.Listener, err error) {
	sock1, err = net.Listen("unix", d.Sock1())
	if err != nil {
		return nil, nil, fmt.Errorf("relay: listen sock.1: %w", err)
	}
	sock2, err = net.Listen("unix", d.Sock2())
	if err != nil {
		sock1.Close()
		return nil, nil, fmt.Errorf("relay: listen sock.2: %w", err)
	}
	return sock1, sock2, nil
}

// Remove deletes the sockdir and everything in it. Called by D on the
// way out (spec §3: "destroyed by D at session end").
func (d *SockDir) Remove() error {
	return os.RemoveAll(d.Path)
}

// WaitForSock2 reports, without blocking, whether sock.2 exists on disk:
// the condition R polls, bounded by its own timeout, before dialing in on
// a resume (spec §4.1: "It waits... for sock.2 to exist").
func WaitForSock2(path string) bool {
	_, err := os.Stat(filepath.Join(path, "sock.2"))
	return err == nil
}

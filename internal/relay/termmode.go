package relay

import (
	"os"

	"golang.org/x/term"
)

// makeStdinRaw puts the app's own stdin into raw mode when it's a
// terminal, so keystrokes reach the remote command unbuffered and
// uninterpreted by the local tty driver. This is local-only: it never
// negotiates terminal geometry with the remote side, so it is not the
// bidirectional PTY control-sequence handling spec.md's Non-goals
// exclude (see SPEC_FULL.md's Non-goals section). Grounded verbatim on
// cmd/xrunner/ssh.go's makeStdinRaw.
func makeStdinRaw() (restore func(), err error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, oldState) }, nil
}

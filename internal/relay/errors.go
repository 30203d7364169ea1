package relay

import "errors"

// ErrWindowExhausted is returned by Stream.Rewind when the resume point a
// peer asked for has already been discarded from the bounded replay
// buffer. It is fatal for the session (spec §7): once returned, the
// caller must give up rather than resume with a gap in the byte stream.
var ErrWindowExhausted = errors.New("relay: replay window exhausted")

// ErrDaemonUnreachable is what Local.handshake returns when R replies
// with the literal "X\n" line, which R writes when it cannot dial D's
// sockets.
var ErrDaemonUnreachable = errors.New("relay: daemon unreachable")

// ErrStaleEpoch names the case of a connection announcing an epoch older
// than one already accepted. Daemon.handleConn drops such a connection
// silently; it neither returns nor logs this error.
var ErrStaleEpoch = errors.New("relay: stale epoch")

// ErrHandshakeTimeout is returned when a control-line read exceeds its
// deadline during the sockdir/epoch/byte-count handshake.
var ErrHandshakeTimeout = errors.New("relay: handshake timeout")

// ErrSpawnExhausted names the failure where the remote proxy could not be
// brought up after the maximum number of spawn attempts. Local.Run
// returns an exit status, not this error: on that path it logs
// "exhausted spawn attempts" and returns 1.
var ErrSpawnExhausted = errors.New("relay: exhausted spawn attempts")

// errBootstrapComplete is a sentinel Local.handshake returns to signal
// that R's bootstrap incarnation finished normally and exited on
// purpose (spec §4.1) — it is not a failure, just a cue for runLoop to
// spawn the incarnation that actually forwards data, without logging it
// at warning level like a real handshake failure.
var errBootstrapComplete = errors.New("relay: bootstrap complete, respawn required")

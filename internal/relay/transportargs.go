package relay

import (
	"fmt"
	"strings"
)

// valueFlags are the ssh-shaped single-letter options that consume the
// following argument as a value (spec §6). Grounded on the option
// vocabulary cmd/xrunner/ssh.go's sshRemoteFlags binds for its own
// ssh-wrapping flags, generalized here into a plain lookup table so an
// arbitrary batch-authenticated transport client can be recognized
// without a cobra flag set.
var valueFlags = mustSet("bceilmpwDEFIJLORSW")

// boolFlags are the value-less single-letter options (spec §6).
var boolFlags = mustSet("afgknqstvxyACGKMNTVXY1246")

func mustSet(letters string) map[byte]bool {
	m := make(map[byte]bool, len(letters))
	for i := 0; i < len(letters); i++ {
		m[letters[i]] = true
	}
	return m
}

// TransportOptions extends the built-in valueFlags/boolFlags tables for
// transport clients other than the canonical ssh-shaped one (wired from
// config.TransportOptionSet).
type TransportOptions struct {
	ValueFlags []string
	BoolFlags  []string
}

func (o TransportOptions) hasValue(letter byte) bool {
	for _, f := range o.ValueFlags {
		if len(f) == 1 && f[0] == letter {
			return true
		}
	}
	return false
}

func (o TransportOptions) hasBool(letter byte) bool {
	for _, f := range o.BoolFlags {
		if len(f) == 1 && f[0] == letter {
			return true
		}
	}
	return false
}

// SplitTransportArgs walks argv (everything after the transport client's
// own executable name) and locates the boundary between the transport
// client's own options+host and the remote command, per spec §6.
//
// argv[0] is the host once transport options are exhausted; everything
// after it is the remote command and its arguments, verbatim.
func SplitTransportArgs(argv []string, extra TransportOptions) (transportArgs []string, host string, command []string, err error) {
	i := 0
	for i < len(argv) {
		a := argv[i]
		if a == "--" {
			i++
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			break
		}
		if strings.HasPrefix(a, "-o") {
			// "-o key=value" or "-okey=value": absorbed into transportArgs
			// as configuration state, never as the host.
			transportArgs = append(transportArgs, a)
			if a == "-o" {
				i++
				if i >= len(argv) {
					return nil, "", nil, fmt.Errorf("relay: -o missing value")
				}
				transportArgs = append(transportArgs, argv[i])
			}
			i++
			continue
		}
		// A value-taking letter right after the dash may carry its value
		// bundled ("-p2222"); otherwise the last letter decides.
		letter, bundled := a[len(a)-1], false
		if valueFlags[a[1]] || extra.hasValue(a[1]) {
			letter, bundled = a[1], len(a) > 2
		}
		switch {
		case valueFlags[letter] || extra.hasValue(letter):
			transportArgs = append(transportArgs, a)
			i++
			if !bundled {
				// "-p 2222" form: value is the next argv element.
				if i >= len(argv) {
					return nil, "", nil, fmt.Errorf("relay: option %q missing value", a)
				}
				transportArgs = append(transportArgs, argv[i])
				i++
			}
			// else "-p2222" form: value already bundled, nothing more to consume.
		case boolFlags[letter] || extra.hasBool(letter):
			transportArgs = append(transportArgs, a)
			i++
		default:
			return nil, "", nil, fmt.Errorf("relay: unrecognized transport option %q", a)
		}
	}

	if i >= len(argv) {
		return nil, "", nil, fmt.Errorf("relay: missing host argument")
	}
	host = argv[i]
	i++
	command = argv[i:]
	return transportArgs, host, command, nil
}

// ApplyTransportOverrides re-splits a RoleLocal Options' original argv
// against an extra option table sourced from config.Config.TransportOptions,
// so a site-specific transport wrapper with option letters outside the
// built-in ssh-shaped table still finds the host/command boundary
// correctly. A no-op if opts is not RoleLocal or extra is empty.
func ApplyTransportOverrides(opts *Options, extra TransportOptions) error {
	if opts.Role != RoleLocal || (len(extra.ValueFlags) == 0 && len(extra.BoolFlags) == 0) {
		return nil
	}
	transportArgs, host, command, err := SplitTransportArgs(opts.rawTransportArgv, extra)
	if err != nil {
		return err
	}
	if len(command) == 0 {
		return fmt.Errorf("relay: missing remote command")
	}
	opts.TransportArgs = transportArgs
	opts.Host = host
	opts.Command = command
	return nil
}

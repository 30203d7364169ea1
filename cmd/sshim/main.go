// Command sshim wraps a batch-authenticated transport client to make
// an interactive remote-command session resilient to transport drops.
package main

import (
	"os"

	"github.com/antonkrylov/sshim/internal/relay"
)

func main() {
	os.Exit(relay.Main(os.Args[1:]))
}

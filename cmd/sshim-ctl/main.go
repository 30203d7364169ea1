// Command sshim-ctl is a companion diagnostics CLI for sshim. It never
// touches a live session; it inspects the local environment and reads or
// updates the optional ~/.sshim/config.yaml.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sshim-ctl",
		Short: "Diagnostics and config helper for sshim",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to sshim config.yaml (default ~/.sshim/config.yaml)")

	cmd.AddCommand(newDoctorCmd(&configPath))
	cmd.AddCommand(newConfigCmd(&configPath))
	return cmd
}

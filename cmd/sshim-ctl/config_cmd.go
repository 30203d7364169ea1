package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/sshim/internal/config"
)

// newConfigCmd is a thin wrapper over internal/config's Load/Save,
// grounded on the same show/set shape the teacher's own config
// subcommands use for its kubeconfig-style file.
func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit sshim's ambient defaults file",
	}
	cmd.AddCommand(newConfigShowCmd(configPath))
	cmd.AddCommand(newConfigSetCmd(configPath))
	return cmd
}

func newConfigShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := effectiveConfigPath(*configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cfg == nil {
				fmt.Fprintf(os.Stdout, "no config file at %s (defaults apply)\n", path)
				return nil
			}
			fmt.Fprintf(os.Stdout, "path=%s\n", path)
			fmt.Fprintf(os.Stdout, "defaultTimeoutSeconds=%d\n", cfg.DefaultTimeoutSeconds)
			fmt.Fprintf(os.Stdout, "maxSpawnAttempts=%d\n", cfg.MaxSpawnAttempts)
			fmt.Fprintf(os.Stdout, "recordDir=%s\n", cfg.RecordDir)
			return nil
		},
	}
}

func newConfigSetCmd(configPath *string) *cobra.Command {
	var timeout int
	var attempts int
	var recordDir string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update sshim's ambient defaults file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := effectiveConfigPath(*configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &config.Config{}
			}
			if cmd.Flags().Changed("timeout") {
				cfg.DefaultTimeoutSeconds = timeout
			}
			if cmd.Flags().Changed("max-attempts") {
				cfg.MaxSpawnAttempts = attempts
			}
			if cmd.Flags().Changed("record-dir") {
				cfg.RecordDir = recordDir
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "saved %s\n", path)
			return nil
		},
	}
	cmd.Flags().IntVar(&timeout, "timeout", 0, "default handshake timeout in seconds")
	cmd.Flags().IntVar(&attempts, "max-attempts", 0, "default spawn retry ceiling")
	cmd.Flags().StringVar(&recordDir, "record-dir", "", "default diagnostic transcript directory")
	return cmd
}

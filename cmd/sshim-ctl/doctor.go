package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/sshim/internal/config"
)

// newDoctorCmd reports executable/PATH sanity, config presence, and
// transport client availability — grounded on cmd/xrunner/doctor.go's
// diagnostic report shape, generalized from a single hardcoded "ssh"
// lookup to whatever transport names the caller wants checked.
func newDoctorCmd(configPath *string) *cobra.Command {
	var transports []string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Print local diagnostic information for troubleshooting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			exe, _ := os.Executable()
			exe = strings.TrimSpace(exe)
			look, _ := exec.LookPath("sshim")
			look = strings.TrimSpace(look)

			fmt.Fprintf(os.Stdout, "sshim_executable=%s\n", exe)
			if look != "" {
				fmt.Fprintf(os.Stdout, "sshim_on_path=%s\n", look)
			}
			if exe != "" && look != "" {
				absExe, _ := filepath.EvalSymlinks(exe)
				absLook, _ := filepath.EvalSymlinks(look)
				if absExe != "" && absLook != "" && absExe != absLook {
					fmt.Fprintln(os.Stdout, "warning=you_are_not_running_the_same_sshim_as_on_PATH")
				}
			}
			fmt.Fprintf(os.Stdout, "PATH=%s\n", os.Getenv("PATH"))

			if len(transports) == 0 {
				transports = []string{"ssh"}
			}
			for _, t := range transports {
				p, err := exec.LookPath(t)
				if err != nil {
					fmt.Fprintf(os.Stdout, "transport=%s available=false\n", t)
					continue
				}
				fmt.Fprintf(os.Stdout, "transport=%s available=true path=%s\n", t, p)
			}

			path := effectiveConfigPath(*configPath)
			fmt.Fprintf(os.Stdout, "config_path=%s\n", path)
			cfg, err := config.Load(path)
			if err != nil {
				fmt.Fprintf(os.Stdout, "config_error=%s\n", err.Error())
				return nil
			}
			if cfg == nil {
				fmt.Fprintln(os.Stdout, "config_present=false")
				return nil
			}
			fmt.Fprintln(os.Stdout, "config_present=true")
			fmt.Fprintf(os.Stdout, "default_timeout_seconds=%d\n", cfg.DefaultTimeoutSeconds)
			fmt.Fprintf(os.Stdout, "max_spawn_attempts=%d\n", cfg.MaxSpawnAttempts)
			if cfg.RecordDir != "" {
				fmt.Fprintf(os.Stdout, "record_dir=%s\n", cfg.RecordDir)
			}
			for name := range cfg.TransportOptions {
				fmt.Fprintf(os.Stdout, "transport_override=%s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&transports, "transport", nil, "transport client names to check (default: ssh)")
	return cmd
}

func effectiveConfigPath(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if v := os.Getenv("SSHIM_CONFIG"); v != "" {
		return v
	}
	return config.DefaultConfigPath()
}

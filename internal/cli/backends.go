package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"facet/internal/backend"
	"facet/internal/config"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "Backend CLI management",
}

var backendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known backends and whether they are installed",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range backend.Names() {
			status := "not installed"
			if _, err := exec.LookPath(name); err == nil {
				status = "installed"
			}
			fmt.Fprintf(os.Stdout, "%-10s %s\n", name, status)
		}
	},
}

var backendsDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the configured backend is usable",
	RunE: func(cmd *cobra.Command, args []string) error {
		name := flagBackend
		if name == "" {
			cfg, err := config.Load(nil)
			if err != nil {
				return err
			}
			name = cfg.Backend
		}

		if _, err := backend.New(name); err != nil {
			fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}
		path, err := exec.LookPath(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL: %s is not on PATH\n", name)
			exitCode = ExitRuntimeError
			return nil
		}

		fmt.Fprintf(os.Stdout, "OK: %s found at %s\n", name, path)
		return nil
	},
}

func init() {
	backendsCmd.AddCommand(backendsListCmd)
	backendsCmd.AddCommand(backendsDoctorCmd)
	backendsDoctorCmd.Flags().StringVar(&flagBackend, "backend", "", "Backend to check")
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

// Exit codes
const (
	ExitSuccess      = 0
	ExitPartial      = 1
	ExitFailed       = 2
	ExitUsageError   = 3
	ExitRuntimeError = 4
)

var rootCmd = &cobra.Command{
	Use:   "facet",
	Short: "Branch review driver for CLI coding agents",
	Long:  "Facet diffs two branches of a repository, assembles review prompts, and fans them out to coding-agent CLIs, collecting structured JSON results.",
}

// Run executes the root command and returns an exit code.
func Run() int {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error
		return ExitUsageError
	}

	return exitCode
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print facet version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "facet version %s\n", version)
	},
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Persistent flags available to all subcommands
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fakemesh",
	Short: "fakemesh is a fake MESH mailbox server for integration testing",
	Long: `fakemesh stands in for a MESH mailbox service during integration tests.
It terminates mutual TLS, authenticates NHSMESH tokens, and stores messages
sent between mailboxes on local disk.

Configuration can be provided via flags, FAKEMESH_* environment variables,
or a YAML configuration file passed with --config.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Main()
}

// Execute runs the CLI and exits the process with its status.
// This is called by main.main().
func Execute() {
	os.Exit(Main())
}

// Main runs the CLI against os.Args and returns the exit status.
func Main() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}

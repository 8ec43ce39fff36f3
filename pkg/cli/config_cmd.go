package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/getmockd/fakemesh/pkg/cli/internal/output"
	"github.com/getmockd/fakemesh/pkg/cliconfig"
	"github.com/getmockd/fakemesh/pkg/config"
)

// redacted replaces secrets in printed configuration.
const redacted = "REDACTED"

var configFlagVals configFlags

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the configuration serve would run with, after applying defaults,
the config file, FAKEMESH_* environment variables and flags. Each value is
annotated with the layer it came from. Secrets are redacted.`,
	Example: `  # Show effective config
  fakemesh config

  # Check what a config file plus overrides resolves to
  fakemesh config --config fakemesh.yaml --port 9000

  # Output as JSON
  fakemesh config --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFlagVals.resolve(cmd.Flags(), os.LookupEnv)
		if err != nil {
			return err
		}
		return printConfig(cmd, cfg)
	},
}

// configView is the JSON form of the config command output.
type configView struct {
	Config  config.ServerConfig `json:"config"`
	Sources map[string]string   `json:"sources"`
}

func printConfig(cmd *cobra.Command, cfg *cliconfig.CLIConfig) error {
	shown := cfg.ServerConfig
	shown.SharedKey = redacted
	shown.Password = redacted

	if jsonOutput {
		return output.JSON(cmd.OutOrStdout(), configView{Config: shown, Sources: cfg.Sources})
	}

	var root yaml.Node
	if err := root.Encode(&shown); err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	// Annotate every key with its source.
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if src, ok := cfg.Sources[key.Value]; ok {
			val.LineComment = src
		}
	}
	return output.YAML(cmd.OutOrStdout(), &root)
}

func init() {
	rootCmd.AddCommand(configCmd)
	configFlagVals.register(configCmd.Flags())
}

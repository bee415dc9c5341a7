// Package cli implements the Cobra command-line interface for psgate.
package cli

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/psgate/psgate/internal/output"
)

// Version information set by the release pipeline.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flag values.
var (
	flagConfig string
	flagOutput string
	flagJSON   bool
	flagSocket string
)

var rootCmd = &cobra.Command{
	Use:   "psgate",
	Short: "Policy-enforcing PowerShell execution gateway",
	Long: `psgate accepts shell-command requests from AI clients over JSON-RPC,
classifies each command's risk, demands confirmation where policy requires
it, runs the shell under strict resource and timing controls, and keeps a
complete audit trail.

Commands are classified into six levels:
  SAFE       - executes directly (read-only commands)
  RISKY      - requires an explicit confirmation flag
  UNKNOWN    - requires confirmation and feeds the learning pipeline
  DANGEROUS  - denied by policy
  CRITICAL   - denied (suspicious constructions, encoded payloads)
  BLOCKED    - denied (hard block list)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := map[string]any{
			"version":    version,
			"commit":     commit,
			"build_date": date,
			"go_version": runtime.Version(),
		}
		return newWriter().Write(payload)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.psgate/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "shorthand for --output json")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "", "gateway socket path (default <dataDir>/psgate.sock)")

	rootCmd.AddCommand(versionCmd)
}

// outputFormat resolves the effective output format.
func outputFormat() output.Format {
	if flagJSON {
		return output.FormatJSON
	}
	f := output.Format(flagOutput)
	if !f.Valid() {
		return output.FormatText
	}
	return f
}

func newWriter() *output.Writer {
	return output.New(outputFormat())
}

// socketPath resolves the gateway socket, preferring the flag.
func socketPath(dataDir string) string {
	if flagSocket != "" {
		return flagSocket
	}
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".psgate", "data")
	}
	return filepath.Join(dataDir, "psgate.sock")
}

// Package cli implements the gateway's command-line interface using Cobra.
// Each subcommand maps to one Core API operation or the serve loop,
// grounded on the teacher's internal/cli package (Cobra root + flag-bound
// subcommands calling into a shared daemon handle).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "inferserve",
	Short: "inferserve — multi-tenant model-inference serving gateway",
	Long: `inferserve loads and serves multiple inference models behind one
process: a plugin port for backends, a lifecycle controller, an adaptive
micro-batching dispatcher, and a REST Core API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a TOML config file (optional)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

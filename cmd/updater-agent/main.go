// Updater-agent keeps a host reachable for firmware updates while its
// network link comes and goes.
//
// On every link-up it announces "<host>.local" over mDNS, serves the web
// upload page on port 80 and, when enabled, the background update listener.
// On link-down it withdraws the announcement.
//
// Usage:
//
//	updater-agent run [flags]
//
// See 'updater-agent run --help' for available options.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/remoteupdate/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "updater-agent",
	Short: "Network firmware update agent",
	Long: `Keeps the web update page and the background update listener available
whenever the network link is up, and advertises the host over mDNS.

Configuration is read from config.yaml in the user configuration directory,
then overridden by REMOTEUPDATE_* environment variables and flags.`,
	Version: version.Version,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("updater-agent " + version.Full())
	},
}

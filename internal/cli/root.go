// Package cli implements the tunnel control plane command-line interface
// using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tunneld",
	Short: "tunneld — control plane for the tunnel-as-a-service platform",
	Long: `tunneld is the control plane for a tunnel-as-a-service platform.

It tracks instance lifecycle, heartbeats, relay capacity, and tunnel
tokens for a fleet of edge relays forwarding traffic to developer
workstations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

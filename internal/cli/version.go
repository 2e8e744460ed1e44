package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green = color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tunneld version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("%s %s\n", green("tunneld"), cyan(rootCmd.Version))
		return nil
	},
}

// Package cli implements the accelerd command line interface.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/msmaccel/accelerd/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"                       _            _\n" +
		"   __ _  ___ ___ ___| | ___ _ __ __| |\n" +
		"  / _` |/ __/ __/ _ \\ |/ _ \\ '__/ _` |\n" +
		" | (_| | (_| (_|  __/ |  __/ | | (_| |\n" +
		"  \\__,_|\\___\\___\\___|_|\\___|_|  \\__,_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "accelerd",
	Short: "accelerd - MSM adaptive sampling coordination server",
	Long: color.CyanString(logo) +
		"\nCoordinates distributed simulators and modelers in an MSM-driven\nadaptive sampling loop.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toySimCmd)
	rootCmd.AddCommand(toyModelCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the accelerd version",
	Run: func(cmd *cobra.Command, args []string) {
		color.Cyan("accelerd %s", version)
	},
}

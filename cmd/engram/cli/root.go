package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	projectRoot string
	verbose     bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Project-scoped memory for agent sessions",
	Long: `Engram captures working context (code patterns, error resolutions,
decisions) from agent lifecycle events and retrieves the most relevant
memories when a new session needs them. Each project keeps its own
namespace under ~/.engram.`,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&projectRoot, "project", "", "Project root (default: current directory)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	RootCmd.AddCommand(hookCmd)
	RootCmd.AddCommand(listCmd)
	RootCmd.AddCommand(searchCmd)
	RootCmd.AddCommand(addCmd)
	RootCmd.AddCommand(deleteCmd)
	RootCmd.AddCommand(clearCmd)
	RootCmd.AddCommand(statsCmd)
}

func resolveProjectRoot() string {
	if projectRoot != "" {
		return projectRoot
	}
	if dir, err := os.Getwd(); err == nil {
		return dir
	}
	return "."
}

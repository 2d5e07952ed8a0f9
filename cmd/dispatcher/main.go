// Package main is the entry point for the courier grid dispatcher.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Grid delivery simulation",
	Long:  `Runs agents that carry deliveries between sites on a grid, routing around structures and moving obstacles.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (default: ~/.courier_grid/config.toml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
}

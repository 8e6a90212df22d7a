// Package main provides the swing_coach command: the HTTP API, the pipeline
// workers and a few operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swing_coach",
	Short: "Golf swing video coaching pipeline",
	Long: `Swing Coach accepts uploaded golf swing videos, extracts still frames,
asks a vision model for coaching feedback and serves the results over HTTP.`,
	SilenceUsage: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

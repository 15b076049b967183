// jobctl is a small operator CLI over the automation job API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var apiURL string

var rootCmd = &cobra.Command{
	Use:   "jobctl",
	Short: "Operate visa automation jobs from the terminal.",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("JOBS_API_URL", "http://localhost:8080"), "base URL of the job API")
	rootCmd.AddCommand(startCmd, statusCmd, cancelCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	dataDir string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "rcslctl",
	Short: "Inspect and debug a local rcsl-sql-client instance",
	Long: `rcslctl works directly on the data files of rcsl-sql-client.
It does not talk to the service's HTTP API, so it can be used while the
service is stopped or misconfigured.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", ".", "directory holding the service's data files")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to the .env credentials file (default: <data-dir>/.env)")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(auditCmd)
}

func envFilePath() string {
	if envFile != "" {
		return envFile
	}
	return filepath.Join(dataDir, ".env")
}
